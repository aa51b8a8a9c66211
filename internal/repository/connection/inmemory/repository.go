package inmemory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/musicsync/server/internal/repository/connection"
)

type repo struct {
	connList    map[string]connection.Conn
	sessionList map[string]connection.Session
	mu          sync.RWMutex
	logger      *slog.Logger
}

func NewRepo(logger *slog.Logger) *repo {
	return &repo{
		connList:    make(map[string]connection.Conn),
		sessionList: make(map[string]connection.Session),
		logger:      logger,
	}
}

func (r *repo) Add(conn connection.Conn) error {
	funcName := "connection.inmemory.Add"
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Debug(funcName, "conn_id", conn.ID())
	if _, ok := r.connList[conn.ID()]; ok {
		r.logger.Info(funcName, "error", connection.ErrAlreadyExists)
		return connection.ErrAlreadyExists
	}

	r.connList[conn.ID()] = conn
	r.sessionList[conn.ID()] = connection.Session{}

	r.logger.Debug(funcName, "result", "OK")
	return nil
}

func (r *repo) Remove(connID string) error {
	funcName := "connection.inmemory.Remove"
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Debug(funcName, "conn_id", connID)
	if _, ok := r.connList[connID]; !ok {
		r.logger.Info(funcName, "error", connection.ErrNotFound)
		return connection.ErrNotFound
	}

	delete(r.connList, connID)
	delete(r.sessionList, connID)

	r.logger.Debug(funcName, "result", "OK")
	return nil
}

func (r *repo) GetSession(connID string) (connection.Session, error) {
	funcName := "connection.inmemory.GetSession"
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessionList[connID]
	if !ok {
		r.logger.Debug(funcName, "conn_id", connID, "error", connection.ErrNotFound)
		return connection.Session{}, connection.ErrNotFound
	}

	return session, nil
}

func (r *repo) SetSession(connID string, session connection.Session) error {
	funcName := "connection.inmemory.SetSession"
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Debug(funcName, "conn_id", connID, "room_id", session.RoomID, "user_id", session.UserID)
	if _, ok := r.connList[connID]; !ok {
		return connection.ErrNotFound
	}

	r.sessionList[connID] = session
	return nil
}

// Send marshals msg once and enqueues it on every listed connection.
// Connections whose buffer is full are closed; their read pump then reports
// the disconnect.
func (r *repo) Send(ctx context.Context, connIDs []string, msg any) error {
	funcName := "connection.inmemory.Send"

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	r.mu.RLock()
	conns := make([]connection.Conn, 0, len(connIDs))
	for _, id := range connIDs {
		if conn, ok := r.connList[id]; ok {
			conns = append(conns, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.Send(data); err != nil {
			r.logger.WarnContext(ctx, funcName, "conn_id", conn.ID(), "error", err)
			go conn.Close()
		}
	}

	return nil
}

func (r *repo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.connList)
}
