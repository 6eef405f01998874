// Package graph serves the init target dependency graph to a browser and
// pushes a fresh copy over a WebSocket whenever the index changes.
package graph

import (
	"cmp"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/elysium-os/elysium-lsp/internal/index"
	"github.com/elysium-os/elysium-lsp/internal/macro"

	"github.com/gorilla/websocket"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("elysium.graph")

// Data holds the nodes and links of the graph.
type Data struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

// Node is one init target. Targets that are depended on but never declared
// are present with Declared unset.
type Node struct {
	ID       string `json:"id"`
	Detail   string `json:"detail,omitempty"`
	Document string `json:"document,omitempty"`
	Declared bool   `json:"declared"`
}

// Link points from a target to one of its dependencies.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Message is sent over the WebSocket. Op is "init" for the first message on
// a connection and "replace" afterwards.
type Message struct {
	Op    string `json:"op"`
	Graph *Data  `json:"graph"`
}

// Build derives the dependency graph from an init target index snapshot.
func Build(snap *index.Snapshot) Data {
	nodes := map[string]Node{}
	var links []Link
	for _, uri := range snap.Documents() {
		c, ok := snap.Contribution(uri)
		if !ok {
			continue
		}
		for _, inv := range c.Invocations {
			if inv.Kind != macro.KindDependencyDeclaration {
				continue
			}
			defs := inv.Names(macro.RoleDefinition)
			if len(defs) == 0 {
				continue
			}
			source := defs[0].Text
			if _, ok := nodes[source]; !ok {
				nodes[source] = Node{ID: source, Detail: inv.Detail, Document: uri, Declared: true}
			}
			for _, ref := range inv.Names(macro.RoleReference) {
				links = append(links, Link{Source: source, Target: ref.Text})
			}
		}
	}
	for _, l := range links {
		if _, ok := nodes[l.Target]; !ok {
			nodes[l.Target] = Node{ID: l.Target}
		}
	}

	data := Data{Nodes: make([]Node, 0, len(nodes)), Links: slices.Clip(links)}
	for _, n := range nodes {
		data.Nodes = append(data.Nodes, n)
	}
	slices.SortFunc(data.Nodes, func(a, b Node) int {
		return cmp.Compare(a.ID, b.ID)
	})
	if data.Links == nil {
		data.Links = []Link{}
	}
	return data
}

//go:embed static/*
var staticFiles embed.FS

// Hub holds the current graph and the connected viewers.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	current Data
	clients map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		current:  Data{Nodes: []Node{}, Links: []Link{}},
		clients:  map[*websocket.Conn]struct{}{},
	}
}

// Graph returns the graph last passed to Update.
func (h *Hub) Graph() Data {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Update replaces the graph and sends it to every viewer. Viewers that
// cannot be written to are dropped.
func (h *Hub) Update(data Data) {
	msg, err := json.Marshal(Message{Op: "replace", Graph: &data})
	if err != nil {
		log.Errorf("failed to marshal graph: %s", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = data
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Warningf("dropping viewer %s: %s", conn.RemoteAddr(), err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/static/", http.FileServer(http.FS(staticFiles)))
	mux.Handle("/", http.RedirectHandler("/static/", http.StatusFound))
	mux.HandleFunc("/graph.json", h.handleJSON)
	mux.HandleFunc("/ws", h.handleWS)
	return mux
}

func (h *Hub) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Graph()); err != nil {
		log.Warningf("failed to write graph: %s", err)
	}
}

// handleWS upgrades the connection and sends the current graph.
func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warningf("websocket upgrade: %s", err)
		return
	}

	h.mu.Lock()
	state := h.current
	err = conn.WriteJSON(Message{Op: "init", Graph: &state})
	if err == nil {
		h.clients[conn] = struct{}{}
	}
	h.mu.Unlock()
	if err != nil {
		log.Warningf("failed to send graph: %s", err)
		conn.Close()
		return
	}

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()
	// viewers never send anything; reading notices when they go away
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

// Listen serves the hub on addr until ctx is done and returns the URL of the
// viewer. An addr of ":0" picks a free port.
func (h *Hub) Listen(ctx context.Context, addr string) (string, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	srv := &http.Server{Handler: h.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("graph server: %s", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	return "http://" + l.Addr().String() + "/static/", nil
}
