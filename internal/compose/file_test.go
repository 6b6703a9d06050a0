package compose

import (
	"strings"
	"testing"
)

const sampleCompose = `
services:
  db:
    image: postgres:16
    container_name: reportstack-db
    healthcheck:
      test: ["CMD-SHELL", "pg_isready -U reportstack"]
      interval: 5s
      retries: 10
  qdrant:
    image: qdrant/qdrant:v1.9.0
  backend:
    image: reportstack/backend
  nginx:
    image: nginx:1.25
`

func TestParseServices(t *testing.T) {
	f, err := Parse([]byte(sampleCompose))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	names := f.ServiceNames()
	want := []string{"backend", "db", "nginx", "qdrant"}
	if len(names) != len(want) {
		t.Fatalf("expected %d services, got %v", len(want), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("service order mismatch: got %v want %v", names, want)
		}
	}
}

func TestParseRejectsEmpty(t *testing.T) {
	if _, err := Parse([]byte("services: {}\n")); err == nil {
		t.Fatalf("expected error for compose file with no services")
	}
}

func TestRequireServices(t *testing.T) {
	f, err := Parse([]byte(sampleCompose))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := f.RequireServices("db", "backend"); err != nil {
		t.Fatalf("declared services should pass: %v", err)
	}
	err = f.RequireServices("db", "vectordb")
	if err == nil || !strings.Contains(err.Error(), "vectordb") {
		t.Fatalf("expected unknown service error naming vectordb, got: %v", err)
	}
}

func TestContainerName(t *testing.T) {
	f, err := Parse([]byte(sampleCompose))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := f.ContainerName("reportstack", "db"); got != "reportstack-db" {
		t.Fatalf("explicit container_name should win, got %q", got)
	}
	if got := f.ContainerName("reportstack", "backend"); got != "reportstack-backend-1" {
		t.Fatalf("expected compose default name, got %q", got)
	}
}

func TestHasHealthcheck(t *testing.T) {
	f, err := Parse([]byte(sampleCompose))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !f.HasHealthcheck("db") {
		t.Fatalf("db declares a healthcheck")
	}
	if f.HasHealthcheck("nginx") {
		t.Fatalf("nginx declares no healthcheck")
	}
}
