package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kibaro-app/realtime/internal/client"
	"github.com/kibaro-app/realtime/internal/types"
)

var (
	url      string
	userId   int64
	token    string
	region   string
	commune  string
	quartier string
)

func main() {
	flag.StringVar(&url, "url", "ws://localhost:8000/ws", "websocket endpoint")
	flag.Int64Var(&userId, "user", 0, "user id")
	flag.StringVar(&token, "token", "", "session token")
	flag.StringVar(&region, "region", "", "region to subscribe to")
	flag.StringVar(&commune, "commune", "", "commune to subscribe to")
	flag.StringVar(&quartier, "quartier", "", "quartier to subscribe to")
	flag.Parse()

	logger := log.New(os.Stderr, "[kibaro-rt] ", log.LstdFlags)

	sess, err := client.NewSession(client.Config{
		URL:    url,
		UserId: userId,
		Token:  token,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("session:", err)
	}

	events, cancel := sess.Subscribe()
	defer cancel()

	sess.Start()

	loc := types.Location{Region: region, Commune: commune, Quartier: quartier}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case ev := <-events:
			switch ev.Kind {
			case client.EventStateChanged:
				logger.Printf("session %s", ev.State)
				if ev.State == client.StateAuthenticated {
					logger.Printf("%d unread notifications", sess.UnreadCount())
					if len(loc.RoomKeys()) > 0 {
						sess.UpdateLocation(loc)
					}
				}
				if ev.State == client.StateDisconnected {
					return
				}
			case client.EventNotification:
				n := ev.Notification
				logger.Printf("[%s/%s] %s: %s", n.Type, n.Priority, n.Title, n.Body)
			case client.EventServerStats:
				logger.Printf("server: %d connections, %.1f msg/s",
					ev.Stats.ActiveConnections, ev.Stats.MessagesPerSec)
			}
		case sig := <-sigs:
			logger.Printf("received signal: %s", sig)
			done := make(chan struct{})
			go func() {
				sess.Disconnect()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
			}
			return
		}
	}
}
