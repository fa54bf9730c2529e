package hotdeck

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "hotdeck")
