package parallel

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "parallel")
