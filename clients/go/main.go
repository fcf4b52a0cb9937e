// WhisperWave CLI - command line client for WhisperWave
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/krazio-01/whisperwave/clients/go/whisperwave"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("WHISPERWAVE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8800"
	}

	client := whisperwave.NewClient(baseURL)
	cmd := os.Args[1]

	switch cmd {
	case "register":
		requireArgs(3, "register <username> <email> <password>")
		err := client.Register(os.Args[2], os.Args[3], os.Args[4])
		exitOnError(err)
		fmt.Println("registered; check your mail for the verification link")

	case "chats":
		login(client)
		inbox, err := client.FetchChats()
		exitOnError(err)
		for _, c := range inbox.Chats {
			name := c.Name
			if !c.IsGroup {
				for _, m := range c.Members {
					if m.ID != client.UserID {
						name = m.Username
					}
				}
			}
			unseen := inbox.UnseenMessageCounts[c.ID]
			fmt.Printf("  %s  %s (%d unseen)\n", c.ID, name, unseen)
		}

	case "read":
		requireArgs(1, "read <chatId>")
		login(client)
		msgs, err := client.FetchMessages(os.Args[2])
		exitOnError(err)
		for _, m := range msgs {
			sender := m.SenderID
			if m.Sender != nil {
				sender = m.Sender.Username
			}
			fmt.Printf("  [%s] %s\n", sender, m.Text)
		}

	case "send":
		requireArgs(2, "send <chatId> <text>")
		login(client)
		msg, err := client.SendMessage(os.Args[2], os.Args[3])
		exitOnError(err)
		fmt.Printf("sent %s\n", msg.ID)

	case "watch":
		requireArgs(1, "watch <chatId>")
		login(client)
		session, err := client.Connect()
		exitOnError(err)
		defer session.Close()
		exitOnError(session.JoinChat(os.Args[2]))

		fmt.Println("watching; type to send, ctrl-d to quit")
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				if text := scanner.Text(); text != "" {
					if err := session.SendMessage(os.Args[2], text); err != nil {
						fmt.Fprintln(os.Stderr, "send failed:", err)
					}
				}
			}
			session.Close()
		}()

		for ev := range session.Events {
			switch ev.Name {
			case "messageReceived":
				var m whisperwave.Message
				if json.Unmarshal(ev.Data, &m) == nil {
					sender := m.SenderID
					if m.Sender != nil {
						sender = m.Sender.Username
					}
					fmt.Printf("[%s] %s\n", sender, m.Text)
				}
			case "onlineUsers":
				var ids []string
				if json.Unmarshal(ev.Data, &ids) == nil {
					fmt.Printf("-- %d online --\n", len(ids))
				}
			case "messageFailed":
				fmt.Fprintf(os.Stderr, "!! %s\n", ev.Data)
			}
		}

	default:
		usage()
		os.Exit(1)
	}
}

// login authenticates with WHISPERWAVE_EMAIL / WHISPERWAVE_PASSWORD.
func login(client *whisperwave.Client) {
	email := os.Getenv("WHISPERWAVE_EMAIL")
	password := os.Getenv("WHISPERWAVE_PASSWORD")
	if email == "" || password == "" {
		fmt.Fprintln(os.Stderr, "set WHISPERWAVE_EMAIL and WHISPERWAVE_PASSWORD")
		os.Exit(1)
	}
	_, err := client.Login(email, password)
	exitOnError(err)
}

func requireArgs(n int, form string) {
	if len(os.Args) < n+2 {
		fmt.Fprintln(os.Stderr, "usage: wwchat "+form)
		os.Exit(1)
	}
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`WhisperWave CLI

usage: wwchat <command> [args]

commands:
  register <username> <email> <password>
  chats
  read <chatId>
  send <chatId> <text>
  watch <chatId>

environment:
  WHISPERWAVE_URL       server base URL (default http://localhost:8800)
  WHISPERWAVE_EMAIL     login email
  WHISPERWAVE_PASSWORD  login password`)
}
