package algo

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "location.algo")
