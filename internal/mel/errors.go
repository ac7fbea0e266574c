package mel

import "github.com/pkg/errors"

// Errors returned by edit commands.
var (
	ErrArity              = errors.New("invalid number of parameters")
	ErrUnknownCommand     = errors.New("unknown editor function")
	ErrNoDefaultModel     = errors.New("no default model")
	ErrUnknownModel       = errors.New("no such model")
	ErrDifferentNetworks  = errors.New("symbols belong to different networks")
	ErrNoMatch            = errors.New("symbol does not match any node")
	ErrNotSingle          = errors.New("symbol must name exactly one node")
	ErrUnknownProperty    = errors.New("unsupported property")
	ErrUnsupportedFormat  = errors.New("unsupported model format")
	ErrWildcard           = errors.New("wildcards do not line up")
	ErrInvalidCopyOptions = errors.New("copy must be all or value")
)
