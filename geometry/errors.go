package geometry

import (
	"github.com/pkg/errors"

	"github.com/kwv/robustfit/robust"
)

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(robust.ErrInvalidArgument, format, args...)
}

func wrapDegenerate(msg string) error {
	return errors.Wrap(robust.ErrDegenerate, msg)
}
