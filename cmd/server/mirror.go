package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"hexfront.gg/internal/persistence/mirror"
)

// buildSaveMirror constructs the offsite save mirror from HF_MIRROR_*
// environment variables. Credentials stay out of engine.yaml so config
// files can be committed.
func buildSaveMirror(saveDir string, logger *log.Logger) (*mirror.Mirror, error) {
	if !envBool("HF_MIRROR", false) {
		return nil, nil
	}

	endpoint := strings.TrimSpace(os.Getenv("HF_MIRROR_ENDPOINT"))
	bucket := strings.TrimSpace(os.Getenv("HF_MIRROR_BUCKET"))
	accessKey := strings.TrimSpace(os.Getenv("HF_MIRROR_ACCESS_KEY_ID"))
	secretKey := strings.TrimSpace(os.Getenv("HF_MIRROR_SECRET_ACCESS_KEY"))
	prefix := strings.TrimSpace(os.Getenv("HF_MIRROR_PREFIX"))

	if endpoint == "" || bucket == "" || accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("HF_MIRROR=true but HF_MIRROR_ENDPOINT/HF_MIRROR_BUCKET/HF_MIRROR_ACCESS_KEY_ID/HF_MIRROR_SECRET_ACCESS_KEY are not fully set")
	}

	client, err := mirror.NewClient(endpoint, bucket, accessKey, secretKey)
	if err != nil {
		return nil, err
	}
	workers := envInt("HF_MIRROR_WORKERS", 2)
	return mirror.New(client, saveDir, prefix, workers, logger), nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
