//go:build astiav

package main

import _ "github.com/depthstream/depthstream/pkg/encoder/libav"
