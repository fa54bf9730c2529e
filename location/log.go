package location

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "location")
