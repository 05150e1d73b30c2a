package storage

import (
	"context"
	"testing"
)

func TestDetectStorageType(t *testing.T) {
	tests := []struct {
		endpoint string
		want     StorageType
	}{
		{"https://abc.r2.cloudflarestorage.com", StorageTypeR2},
		{"s3.eu-west-1.amazonaws.com", StorageTypeS3},
		{"", StorageTypeS3},
		{"http://localhost:9000", StorageTypeS3Compatible},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			if got := detectStorageType(tt.endpoint); got != tt.want {
				t.Errorf("detectStorageType(%q) = %s, want %s", tt.endpoint, got, tt.want)
			}
		})
	}
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		endpoint string
		ssl      bool
		want     string
	}{
		{"https://minio.local:9000/some/path", false, "http://minio.local:9000"},
		{"minio.local:9000", true, "https://minio.local:9000"},
		{"", true, ""},
	}
	for _, tt := range tests {
		if got := endpointURL(tt.endpoint, tt.ssl); got != tt.want {
			t.Errorf("endpointURL(%q, %v) = %q, want %q", tt.endpoint, tt.ssl, got, tt.want)
		}
	}
}

func TestURL(t *testing.T) {
	ctx := context.Background()
	s, err := NewS3Storage(ctx, Config{Endpoint: "localhost:9000", Bucket: "results", AccessKey: "a", SecretKey: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if got := s.URL("/snapshots/results.json"); got != "http://localhost:9000/results/snapshots/results.json" {
		t.Errorf("URL() = %q", got)
	}

	s, err = NewS3Storage(ctx, Config{Bucket: "results", PublicURL: "https://cdn.example.com/", AccessKey: "a", SecretKey: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if got := s.URL("a.json"); got != "https://cdn.example.com/a.json" {
		t.Errorf("URL() = %q", got)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Error("expected error without bucket")
	}
}
