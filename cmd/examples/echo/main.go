package main

import (
	"context"
	"fmt"

	"github.com/Atheer-Ganayem/snapserver"
)

func main() {
	l, err := snapserver.NewListener("0.0.0.0", 8080, &snapserver.Options{
		OnText: func(s *snapserver.Session, text string) {
			err := s.SendString(context.TODO(), text)
			if snapserver.IsFatalErr(err) {
				return // Connection closed
			} else if err != nil {
				fmt.Println("Non-fatal error:", err)
			}
		},
	})
	if err != nil {
		panic(err)
	}

	fmt.Println("Server listening on port 8080")
	if err := l.Start(context.Background()); err != nil {
		fmt.Println(err)
	}
}
