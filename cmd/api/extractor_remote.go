//go:build !dlib

package main

import (
	"context"
	"log"

	"presensi/internal/biometric"
	"presensi/internal/config"
	"presensi/internal/faceclient"
)

// newExtractor uses the face embedding microservice.
func newExtractor(cfg config.App) (biometric.Extractor, func(), error) {
	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	face.MinScore = cfg.FaceMinScore
	if cfg.FaceSkip {
		log.Println("WARNING: FACE_SKIP is set, every face will match the fixed dev embedding")
	} else if err := face.Health(context.Background()); err != nil {
		log.Printf("WARNING: face service not available: %v", err)
	} else {
		log.Println("face service connected")
	}
	return face, func() {}, nil
}
