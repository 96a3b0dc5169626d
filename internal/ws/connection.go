package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"perepiska/internal/models"
)

var errSlowClient = errors.New("client is not reading its frames")

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type messageHub interface {
	Join(ctx context.Context, user models.User, kick context.CancelFunc) (Session, error)
	Leave(s Session)
}

type Connection struct {
	ws         wsConnection
	hub        messageHub
	user       models.User
	fromClient chan models.ClientMessage
	errorCh    chan error
}

func NewConnection(
	hub messageHub,
	ws wsConnection,
	user models.User,
) *Connection {
	return &Connection{
		ws:         ws,
		hub:        hub,
		user:       user,
		fromClient: make(chan models.ClientMessage),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session, err := c.hub.Join(ctx, c.user, cancel)
	if err != nil {
		_ = c.ws.Close()
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Leave(session)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx, session)
		cancel()
	})

	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	_ = c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var msg models.ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return err
		}
		select {
		case c.fromClient <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context, session Session) error {
	for {
		select {
		case msg := <-c.fromClient:
			session.Handle(ctx, msg)
		case msg := <-session.Events():
			if err := c.ws.WriteJSON(msg); err != nil {
				return err
			}
		case <-session.Overflow():
			return errSlowClient
		case <-ctx.Done():
			return nil
		}
	}
}
