package utils

import "errors"

var ErrorUnknownNode = errors.New("unknown database node")
