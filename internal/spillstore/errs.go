package spillstore

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func errorsAs(err error, target any) bool { return errors.As(err, target) }

func asNoSuchKey(err error, target **types.NoSuchKey) bool {
	return errors.As(err, target)
}
