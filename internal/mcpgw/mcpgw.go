// Package mcpgw exposes the Agent Orchestrator's decision API as an MCP
// server: make_decision, incorporate_feedback, and get_system_health. It is
// the one externally-consumed surface this module ships — no REST API, no
// web UI, just the three tools a domain agent needs to participate.
package mcpgw

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/compliance-agents/coordination-core/internal/auth"
	"github.com/compliance-agents/coordination-core/internal/ctxutil"
	"github.com/compliance-agents/coordination-core/internal/knowledge"
	"github.com/compliance-agents/coordination-core/internal/orchestrator"
)

const serverInstructions = `You have access to the Agent Coordination Core, the decision-making
substrate for a regulated multi-agent deployment.

TOOLS:
- make_decision: route a decision request to a registered agent type and get
  back a scored, reasoned decision, subject to that agent type's circuit
  breaker and urgency timeout.
- incorporate_feedback: report an observed outcome for a prior decision.
  Nudges the knowledge entities that informed it so future decisions improve.
- get_system_health: check per-agent circuit state, failure rate, and
  message bus throughput before routing high-urgency work.

Always call get_system_health before routing a critical-urgency decision to
an agent type you haven't used recently — a half-open or open circuit means
degraded service, not failure.`

// Server wraps the MCP server with the orchestrator and knowledge store it fronts.
type Server struct {
	mcpServer *mcpserver.MCPServer
	orch      *orchestrator.Orchestrator
	store     *knowledge.Store
	jwtMgr    *auth.JWTManager
	logger    *slog.Logger
}

// New creates and configures the MCP server with its three tools registered.
func New(orch *orchestrator.Orchestrator, store *knowledge.Store, jwtMgr *auth.JWTManager, logger *slog.Logger, version string) *Server {
	s := &Server{orch: orch, store: store, jwtMgr: jwtMgr, logger: logger}

	s.mcpServer = mcpserver.NewMCPServer(
		"coordination-core",
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns an http.Handler serving the MCP StreamableHTTP transport
// at the given path, behind a bearer-token check. This is the minimal auth
// the Non-goals permit — no session cookies, no API key scheme, no RBAC
// route table, just "is this a valid agent token".
func (s *Server) Handler(path string) http.Handler {
	mcpHTTP := mcpserver.NewStreamableHTTPServer(s.mcpServer)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.authenticate(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		ctx := ctxutil.WithClaims(r.Context(), claims)
		mcpHTTP.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) authenticate(r *http.Request) (*auth.Claims, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return nil, errMissingBearer
	}
	token := strings.TrimPrefix(header, prefix)
	return s.jwtMgr.ValidateToken(token)
}

var errMissingBearer = errUnauthorized("missing bearer token")

type errUnauthorized string

func (e errUnauthorized) Error() string { return string(e) }

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("failed to marshal result: " + err.Error())
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}
