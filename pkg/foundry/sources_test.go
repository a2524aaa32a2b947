package foundry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSourceCredentials(t *testing.T) {
	p := filepath.Join(t.TempDir(), "creds.json")
	body := `{"hdfs":{"Namenodes":"nn1:8020,nn2:8020","additionalSecretUser":"etl"}}`
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write creds: %v", err)
	}
	t.Setenv("SOURCE_CREDENTIALS", p)

	sc, err := LoadSourceCredentialsFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if v, ok := sc.Secret("hdfs", "Namenodes"); !ok || v != "nn1:8020,nn2:8020" {
		t.Fatalf("Namenodes = %q, %t", v, ok)
	}
	if v, ok := sc.Secret("hdfs", "User"); !ok || v != "etl" {
		t.Fatalf("additionalSecret fallback: got %q, %t", v, ok)
	}
	if _, err := sc.RequireSecret("hdfs", "Password"); err == nil || !strings.Contains(err.Error(), "Namenodes") {
		t.Fatalf("expected error listing known secrets, got %v", err)
	}
	if _, err := sc.RequireSecret("s3", "Key"); err == nil {
		t.Fatalf("expected unknown source error")
	}
}

func TestLoadSourceCredentialsFromEnv_Unset(t *testing.T) {
	t.Setenv("SOURCE_CREDENTIALS", "")
	if _, err := LoadSourceCredentialsFromEnv(); err == nil {
		t.Fatalf("expected error when SOURCE_CREDENTIALS is unset")
	}
}
