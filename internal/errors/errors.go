package errors

import "errors"

var (
	ErrFunctionPathRequired     = errors.New("function path is required (--function-path or FUNCTION_PATH)")
	ErrConflictingEventingFlags = errors.New("ENABLE_EVENTING_ON_DEPLOY and DISABLE_EVENTING_ON_DEPLOY are mutually exclusive")
	ErrNotFound                 = errors.New("resource not found")
	ErrNoOriginRemote           = errors.New("no remote origin found")
	ErrMultipleOriginRemotes    = errors.New("multiple remote origins found")
	ErrClientSecretRequired     = errors.New("JWT auth requires a client secret parameter or secret id")
	ErrTokenURLRequired         = errors.New("JWT auth requires --jwt-token-url")
	ErrDetachedHead             = errors.New("HEAD is detached; set --branch or GIT_BRANCH")
)
