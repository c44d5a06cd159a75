package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/themindlocksyndicate/tmls-companion/logger"
	"github.com/themindlocksyndicate/tmls-companion/network"
)

const usage = `commands:
  draw [n]          draw n cards (default 1)
  flip CODE         flip a drawn card
  reset             clear the table (host)
  init DECK         switch deck (host)
  allow on|off      let subjects draw (host)
  say TEXT          send a chat message
  typing on|off     typing indicator
  join CODE         join another room
  leave             leave the room
  end               end the room (host)
  quit`

// send encodes and writes one packet.
func send(c *websocket.Conn, msgID uint16, v any) error {
	var data []byte
	if v != nil {
		var err error
		if data, err = json.Marshal(v); err != nil {
			return err
		}
	}
	packet, err := network.Encode(msgID, data)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.BinaryMessage, packet)
}

var pushNames = map[uint16]string{
	network.MsgTypeRoomState:    "state",
	network.MsgTypeMessages:     "messages",
	network.MsgTypeParticipants: "participants",
	network.MsgTypeRoomDoc:      "room",
	network.MsgTypeRoomEnded:    "ended",
	network.MsgTypeWelcome:      "welcome",
	network.MsgTypeAlert:        "alert",
}

func onOff(arg string) network.FlagRequest {
	return network.FlagRequest{Value: arg == "on" || arg == "1" || arg == "true"}
}

// command turns one input line into a packet; ok is false for unknown input.
func command(line string) (msgID uint16, body any, ok bool) {
	name, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "draw":
		n := 1
		if arg != "" {
			if v, err := strconv.Atoi(arg); err == nil {
				n = v
			}
		}
		return network.MsgTypeDraw, network.DrawRequest{N: n}, true
	case "flip":
		return network.MsgTypeFlip, network.FlipRequest{Card: arg}, arg != ""
	case "reset":
		return network.MsgTypeReset, nil, true
	case "init":
		return network.MsgTypeInitDeck, network.InitDeckRequest{DeckID: arg}, true
	case "allow":
		return network.MsgTypeSubjectsCanDraw, onOff(arg), true
	case "say":
		return network.MsgTypeChat, network.ChatRequest{Text: arg}, arg != ""
	case "typing":
		return network.MsgTypeTyping, onOff(arg), true
	case "join":
		return network.MsgTypeJoinRoom, network.JoinRequest{RoomCode: arg}, arg != ""
	case "leave":
		return network.MsgTypeLeaveRoom, nil, true
	case "end":
		return network.MsgTypeEndRoom, nil, true
	}
	return 0, nil, false
}

func main() {
	addr := flag.String("addr", "localhost:8080", "server address")
	roomCode := flag.String("room", "demo", "room code")
	deckID := flag.String("deck", "", "deck for a new room")
	host := flag.Bool("host", false, "create the room as host")
	token := flag.String("token", "", "identity token from a previous welcome")
	heartbeat := flag.Duration("heartbeat", 20*time.Second, "heartbeat interval")
	flag.Parse()

	logger.InitDevelopment()
	defer logger.Sync()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	q := url.Values{}
	q.Set("room", *roomCode)
	if *deckID != "" {
		q.Set("deck", *deckID)
	}
	if *host {
		q.Set("host", "1")
	}
	if *token != "" {
		q.Set("token", *token)
	}
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws", RawQuery: q.Encode()}
	logger.Log.Infof("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		logger.Log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				logger.Log.Infof("Read error: %v", err)
				return
			}
			packet, err := network.Decode(message)
			if err != nil {
				logger.Log.Warnf("Received invalid packet of size %d", len(message))
				continue
			}
			name, ok := pushNames[packet.MsgID]
			if !ok {
				name = strconv.Itoa(int(packet.MsgID))
			}
			logger.Log.Infof("<- %s: %s", name, string(packet.Data))
		}
	}()

	ticker := time.NewTicker(*heartbeat)
	defer ticker.Stop()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	logger.Log.Info(usage)

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := send(c, network.MsgTypeHeartbeat, nil); err != nil {
				logger.Log.Warnf("Heartbeat failed: %v", err)
				return
			}
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "quit" {
				return
			}
			msgID, body, valid := command(line)
			if !valid {
				logger.Log.Info(usage)
				continue
			}
			if err := send(c, msgID, body); err != nil {
				logger.Log.Warnf("Write error: %v", err)
				return
			}
		case <-interrupt:
			logger.Log.Info("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				logger.Log.Warnf("Write close error: %v", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
