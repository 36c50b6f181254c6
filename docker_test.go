package gradebook_test

import (
	"os"
	"strings"
	"testing"
)

func readFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("failed to read %s: %v", name, err)
	}
	return string(data)
}

func TestDockerfileMultiStageBuild(t *testing.T) {
	content := readFile(t, "Dockerfile")

	if !strings.Contains(content, "FROM golang:") {
		t.Error("Dockerfile should contain a Go builder stage (FROM golang:)")
	}

	// 最終ステージは軽量イメージであること
	var lastFrom string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "FROM ") {
			lastFrom = trimmed
		}
	}
	if !strings.Contains(lastFrom, "gcr.io/distroless") {
		t.Errorf("final stage should use a distroless image, got: %s", lastFrom)
	}
}

func TestDockerfileBuildsWithCgo(t *testing.T) {
	content := readFile(t, "Dockerfile")

	// SQLiteドライバはcgoが必須
	if !strings.Contains(content, "CGO_ENABLED=1") {
		t.Error("Dockerfile should build with CGO_ENABLED=1")
	}
	if !strings.Contains(content, "./cmd/gradebook") {
		t.Error("Dockerfile should build ./cmd/gradebook")
	}
}

func TestDockerfileHealthcheck(t *testing.T) {
	content := readFile(t, "Dockerfile")

	if !strings.Contains(content, "ENTRYPOINT") {
		t.Error("Dockerfile should contain ENTRYPOINT")
	}
	if !strings.Contains(content, `"healthcheck"`) {
		t.Error("Dockerfile HEALTHCHECK should use the healthcheck subcommand")
	}
}

func TestDockerComposeServices(t *testing.T) {
	content := readFile(t, "docker-compose.yml")

	for _, svc := range []string{"api:", "worker:", "db:", "redis:"} {
		if !strings.Contains(content, svc) {
			t.Errorf("docker-compose.yml should contain service %q", svc)
		}
	}
	if !strings.Contains(content, "postgres:") {
		t.Error("docker-compose.yml should use PostgreSQL image")
	}
	if !strings.Contains(content, `command: ["worker"]`) {
		t.Error("worker service should use the worker subcommand")
	}
}

func TestDockerComposeNetworks(t *testing.T) {
	content := readFile(t, "docker-compose.yml")

	if !strings.Contains(content, "internal: true") {
		t.Error("docker-compose.yml should define an internal network (internal: true)")
	}

	// 外部ネットワークに参加するのはapiのみ
	worker := content[strings.Index(content, "  worker:"):strings.Index(content, "  db:")]
	if strings.Contains(worker, "- external") {
		t.Error("worker should not join the external network")
	}
	api := content[strings.Index(content, "  api:"):strings.Index(content, "  worker:")]
	if !strings.Contains(api, "- external") {
		t.Error("api should join the external network for OAuth egress")
	}
}
