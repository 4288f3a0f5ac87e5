package redisstream

import "errors"

var errMissingTaskField = errors.New("stream message has no task field")
