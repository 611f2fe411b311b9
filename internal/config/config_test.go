package config

import (
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvFloatValid(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.75")
	v, err := envFloat("TEST_FLOAT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0.75 {
		t.Fatalf("expected 0.75, got %f", v)
	}
}

func TestEnvFloatInvalid(t *testing.T) {
	t.Setenv("TEST_FLOAT_BAD", "not-a-float")
	_, err := envFloat("TEST_FLOAT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid float, got nil")
	}
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("COORD_PORT", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid COORD_PORT")
	}
	if got := err.Error(); !contains(got, "COORD_PORT") || !contains(got, "abc") {
		t.Fatalf("error should mention COORD_PORT and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("COORD_PORT", "abc")
	t.Setenv("COORD_EMBEDDING_DIMENSIONS", "xyz")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !contains(got, "COORD_PORT") {
		t.Fatalf("error should mention COORD_PORT, got: %s", got)
	}
	if !contains(got, "COORD_EMBEDDING_DIMENSIONS") {
		t.Fatalf("error should mention COORD_EMBEDDING_DIMENSIONS, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.OrchestratorInitStrategy != "lazy" {
		t.Fatalf("expected default init strategy lazy, got %q", cfg.OrchestratorInitStrategy)
	}
	if cfg.ConsensusDefaultAlgorithm != "majority" {
		t.Fatalf("expected default consensus algorithm majority, got %q", cfg.ConsensusDefaultAlgorithm)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchSubstring(s, substr)
}

func searchSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestLoad_JWTKeyPathValidation(t *testing.T) {
	bogusPath := "/tmp/coord-test-nonexistent-key-file.pem"
	t.Setenv("COORD_JWT_PRIVATE_KEY", bogusPath)
	t.Setenv("COORD_JWT_PUBLIC_KEY", bogusPath)

	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail when COORD_JWT_PRIVATE_KEY points to a nonexistent file")
	}
	got := err.Error()
	if !contains(got, bogusPath) {
		t.Fatalf("error should mention the path %q, got: %s", bogusPath, got)
	}
	if !contains(got, "COORD_JWT_PRIVATE_KEY") {
		t.Fatalf("error should mention COORD_JWT_PRIVATE_KEY, got: %s", got)
	}
}

func TestLoad_OTELEndpointParsing(t *testing.T) {
	endpoint := "https://otel.example.com:4317"
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", endpoint)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	if cfg.OTELEndpoint != endpoint {
		t.Fatalf("expected OTELEndpoint %q, got %q", endpoint, cfg.OTELEndpoint)
	}
}

func TestLoad_EmbeddingProviderSelection(t *testing.T) {
	t.Setenv("COORD_EMBEDDING_PROVIDER", "ollama")
	t.Setenv("OLLAMA_URL", "http://localhost:11434")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	if cfg.EmbeddingProvider != "ollama" {
		t.Fatalf("expected EmbeddingProvider %q, got %q", "ollama", cfg.EmbeddingProvider)
	}
	if cfg.OllamaURL != "http://localhost:11434" {
		t.Fatalf("expected OllamaURL %q, got %q", "http://localhost:11434", cfg.OllamaURL)
	}
}

func TestLoad_QdrantURLValidation(t *testing.T) {
	t.Run("explicit URL", func(t *testing.T) {
		qdrantURL := "https://qdrant.example.com:6334"
		t.Setenv("QDRANT_URL", qdrantURL)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("expected Load() to succeed, got: %v", err)
		}
		if cfg.QdrantURL != qdrantURL {
			t.Fatalf("expected QdrantURL %q, got %q", qdrantURL, cfg.QdrantURL)
		}
	})

	t.Run("empty default", func(t *testing.T) {
		// QDRANT_URL is not set; default should be empty.
		cfg, err := Load()
		if err != nil {
			t.Fatalf("expected Load() to succeed, got: %v", err)
		}
		if cfg.QdrantURL != "" {
			t.Fatalf("expected empty QdrantURL by default, got %q", cfg.QdrantURL)
		}
	})
}

func TestLoad_InvalidOrchestratorInitStrategy(t *testing.T) {
	t.Setenv("COORD_ORCHESTRATOR_INIT_STRATEGY", "eventually")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail on an unrecognized init strategy")
	}
	if !contains(err.Error(), "COORD_ORCHESTRATOR_INIT_STRATEGY") {
		t.Fatalf("error should mention COORD_ORCHESTRATOR_INIT_STRATEGY, got: %s", err.Error())
	}
}

func TestLoad_AllEnvVarsHonored(t *testing.T) {
	t.Setenv("COORD_PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/testdb")
	t.Setenv("NOTIFY_URL", "postgres://test:test@db:5432/testdb_notify")
	t.Setenv("COORD_JWT_EXPIRATION", "12h")
	t.Setenv("COORD_EMBEDDING_DIMENSIONS", "768")
	t.Setenv("OTEL_SERVICE_NAME", "coord-test")
	t.Setenv("COORD_LOG_LEVEL", "debug")
	t.Setenv("COORD_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("COORD_BUS_WORKER_COUNT", "8")
	t.Setenv("COORD_BUS_BATCH_SIZE", "200")
	t.Setenv("COORD_CONSENSUS_MAX_ROUNDS", "3")
	t.Setenv("COORD_CONSENSUS_DEFAULT_ALGORITHM", "ranked_choice")
	t.Setenv("COORD_MEDIATOR_NEGOTIATION_ROUNDS", "2")
	t.Setenv("COORD_MEDIATOR_TOPIC_SIM_FLOOR", "0.5")
	t.Setenv("COORD_HYBRID_VECTOR_WEIGHT", "0.8")
	t.Setenv("COORD_ORCHESTRATOR_INIT_STRATEGY", "eager")
	t.Setenv("COORD_ORCHESTRATOR_CIRCUIT_MAX_FAILURES", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}

	if cfg.Port != 9090 {
		t.Fatalf("expected Port 9090, got %d", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://test:test@db:5432/testdb" {
		t.Fatalf("expected DatabaseURL %q, got %q", "postgres://test:test@db:5432/testdb", cfg.DatabaseURL)
	}
	if cfg.NotifyURL != "postgres://test:test@db:5432/testdb_notify" {
		t.Fatalf("expected NotifyURL %q, got %q", "postgres://test:test@db:5432/testdb_notify", cfg.NotifyURL)
	}
	if cfg.JWTExpiration != 12*time.Hour {
		t.Fatalf("expected JWTExpiration 12h, got %s", cfg.JWTExpiration)
	}
	if cfg.EmbeddingDimensions != 768 {
		t.Fatalf("expected EmbeddingDimensions 768, got %d", cfg.EmbeddingDimensions)
	}
	if cfg.ServiceName != "coord-test" {
		t.Fatalf("expected ServiceName %q, got %q", "coord-test", cfg.ServiceName)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected LogLevel %q, got %q", "debug", cfg.LogLevel)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("expected 2 CORS origins, got %d", len(cfg.CORSAllowedOrigins))
	}
	if cfg.CORSAllowedOrigins[0] != "https://a.example.com" {
		t.Fatalf("expected first CORS origin %q, got %q", "https://a.example.com", cfg.CORSAllowedOrigins[0])
	}
	if cfg.BusWorkerCount != 8 {
		t.Fatalf("expected BusWorkerCount 8, got %d", cfg.BusWorkerCount)
	}
	if cfg.BusBatchSize != 200 {
		t.Fatalf("expected BusBatchSize 200, got %d", cfg.BusBatchSize)
	}
	if cfg.ConsensusMaxRounds != 3 {
		t.Fatalf("expected ConsensusMaxRounds 3, got %d", cfg.ConsensusMaxRounds)
	}
	if cfg.ConsensusDefaultAlgorithm != "ranked_choice" {
		t.Fatalf("expected ConsensusDefaultAlgorithm ranked_choice, got %q", cfg.ConsensusDefaultAlgorithm)
	}
	if cfg.MediatorNegotiationRounds != 2 {
		t.Fatalf("expected MediatorNegotiationRounds 2, got %d", cfg.MediatorNegotiationRounds)
	}
	if cfg.MediatorClaimTopicSimFloor != 0.5 {
		t.Fatalf("expected MediatorClaimTopicSimFloor 0.5, got %f", cfg.MediatorClaimTopicSimFloor)
	}
	if cfg.HybridSearchVectorWeight != 0.8 {
		t.Fatalf("expected HybridSearchVectorWeight 0.8, got %f", cfg.HybridSearchVectorWeight)
	}
	if cfg.OrchestratorInitStrategy != "eager" {
		t.Fatalf("expected OrchestratorInitStrategy eager, got %q", cfg.OrchestratorInitStrategy)
	}
	if cfg.OrchestratorCircuitMaxFailures != 3 {
		t.Fatalf("expected OrchestratorCircuitMaxFailures 3, got %d", cfg.OrchestratorCircuitMaxFailures)
	}
}
