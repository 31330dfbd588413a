package snmp

import "errors"

var (
	ErrNilTarget          = errors.New("target configuration is nil")
	ErrTargetHostRequired = errors.New("target host is required")
	ErrUnreachable        = errors.New("device unreachable")
	ErrWalkStalled        = errors.New("walk returned a non-increasing OID")
)
