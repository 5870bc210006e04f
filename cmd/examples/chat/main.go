package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/Atheer-Ganayem/snapserver"
)

var (
	listener *snapserver.Listener

	mu    sync.Mutex
	names = make(map[*snapserver.Session]string)
	next  int
)

func main() {
	var err error
	listener, err = snapserver.NewListener("0.0.0.0", 8080, &snapserver.Options{
		OnHandshake: onConnect,
		OnText:      onMessage,
		OnStopped:   onDisconnect,
	})
	if err != nil {
		panic(err)
	}

	fmt.Println("Server listening on port 8080")
	if err := listener.Start(context.Background()); err != nil {
		fmt.Println(err)
	}
}

func onConnect(s *snapserver.Session) {
	mu.Lock()
	next++
	name := fmt.Sprintf("user-%d", next)
	names[s] = name
	mu.Unlock()

	_ = s.SendString(context.TODO(), "you are "+name)
	broadcastExcept(s, name+" connected")
}

func onMessage(s *snapserver.Session, text string) {
	broadcastExcept(s, fmt.Sprintf("%s: %s", nameOf(s), text))
}

func onDisconnect(s *snapserver.Session) {
	// nil when Start was called twice
	if s == nil {
		return
	}

	mu.Lock()
	name, ok := names[s]
	delete(names, s)
	mu.Unlock()

	if ok {
		broadcastExcept(s, name+" disconnected")
	}
}

func nameOf(s *snapserver.Session) string {
	mu.Lock()
	defer mu.Unlock()
	return names[s]
}

// Broadcast message to all except sender
func broadcastExcept(sender *snapserver.Session, msg string) {
	for _, s := range listener.Sessions() {
		if s == sender || !s.IsHandshaken() {
			continue
		}
		err := s.SendString(context.TODO(), msg)
		if err != nil && !snapserver.IsFatalErr(err) {
			fmt.Println(err)
		}
	}
}
