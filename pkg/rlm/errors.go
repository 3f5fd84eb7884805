package rlm

import "errors"

var (
	ErrInvalidMagic     = errors.New("invalid RLM magic")
	ErrUnsupportedMajor = errors.New("unsupported RLM major version")
	ErrUnsupportedMinor = errors.New("unsupported RLM section version")
	ErrCorruptFile      = errors.New("corrupt RLM file")
)
