// chatty CLI - command line client for a chatty server
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/eldtechnologies/chatty/clients/go/chatty"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("CHATTY_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	client := chatty.NewClient(baseURL)
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "rooms":
		resp, err := client.ListRooms()
		exitOnError(err)
		for _, r := range resp.Channels {
			fmt.Printf("  %s  %s (%d present)\n", r.ID, r.Name, r.Present)
		}

	case "create":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chatty create <name>")
			os.Exit(1)
		}
		resp, err := client.CreateRoom(os.Args[2])
		exitOnError(err)
		fmt.Printf("Room: %s\n", resp.ID)

	case "register":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chatty register <email>")
			os.Exit(1)
		}
		resp, err := client.Register(os.Args[2])
		exitOnError(err)
		fmt.Printf("Registered as: %s\n", resp.ID)

	case "history":
		roomID := roomArg(client, 2)
		resp, err := client.History(roomID)
		exitOnError(err)
		for _, row := range resp.History {
			fmt.Printf("[%s] <%s>: %s\n", row[0], row[1], row[2])
		}

	case "members":
		resp, err := client.Members(roomArg(client, 2))
		exitOnError(err)
		printJSON(resp)

	case "post":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chatty post <message> [room_id]")
			os.Exit(1)
		}
		requireUser(client)
		bus, err := client.DialBus()
		exitOnError(err)
		defer bus.Close()
		roomID := ""
		if len(os.Args) > 3 {
			roomID = os.Args[3]
		}
		exitOnError(bus.Say(client.UserID, roomID, os.Args[2]))
		fmt.Println("Posted")

	case "watch":
		requireUser(client)
		roomID := roomArg(client, 2)
		watch(client, roomID)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// watch prints chat lines for roomID and keeps the user present until interrupted.
func watch(client *chatty.Client, roomID string) {
	bus, err := client.DialBus()
	exitOnError(err)
	defer bus.Close()

	exitOnError(bus.Register("webchat.client"))
	exitOnError(bus.Heartbeat(client.UserID, roomID))

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := bus.Heartbeat(client.UserID, roomID); err != nil {
				return
			}
		}
	}()

	for {
		f, err := bus.Next(0)
		exitOnError(err)
		if f.Type != "rec" {
			continue
		}
		var ev chatty.ClientEvent
		if json.Unmarshal(f.Body, &ev) == nil && ev.RoomID == roomID {
			fmt.Println(ev.DisplayText)
		}
	}
}

func roomArg(client *chatty.Client, i int) string {
	if len(os.Args) > i {
		return os.Args[i]
	}
	roomID, err := client.GeneralRoom()
	exitOnError(err)
	return roomID
}

func requireUser(client *chatty.Client) {
	if client.UserID == "" {
		fmt.Fprintln(os.Stderr, "Not registered. Run: chatty register <email>")
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`chatty CLI - multi-room chat

Usage: chatty <command> [options]

Commands:
  register <email>        Register or look up a user
  post <message> [room]   Post message to room (default: General)
  watch [room]            Stream a room's messages
  history [room]          Show a room's history
  members [room]          Show who is present in a room
  rooms                   List rooms
  create <name>           Create a room
  health                  Check server health

Environment:
  CHATTY_URL      Server URL (default: http://localhost:8080)
  CHATTY_CONFIG   Config directory (default: ~/.chatty)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
