//go:build dlib

package main

import (
	"log"

	"presensi/internal/biometric"
	"presensi/internal/biometric/dlib"
	"presensi/internal/config"
)

// newExtractor runs dlib in-process.
func newExtractor(cfg config.App) (biometric.Extractor, func(), error) {
	ext, err := dlib.New(cfg.FaceModelDir)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("dlib models loaded from %s", cfg.FaceModelDir)
	return ext, func() { _ = ext.Close() }, nil
}
