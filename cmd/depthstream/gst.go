//go:build gst

package main

import _ "github.com/depthstream/depthstream/pkg/capture/gst"
