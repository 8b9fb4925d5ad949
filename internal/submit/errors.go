package submit

import "errors"

var ErrUnauthorized = errors.New("user is not authorized to submit this task")
