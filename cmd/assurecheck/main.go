package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/assurekit/assurekit-go/internal/control"
	"github.com/assurekit/assurekit-go/internal/socket"
	"github.com/assurekit/assurekit-go/pkg/assurancedto"
)

func main() {
	sessionURL := os.Getenv("ASSURE_SESSION_URL")
	controlURL := os.Getenv("ASSURE_CONTROL_URL")
	apiKey := os.Getenv("ASSURE_API_KEY")
	clientID := os.Getenv("ASSURE_CLIENT_ID")
	if clientID == "" {
		clientID = "assurecheck"
	}

	headers := func() map[string]string {
		m := map[string]string{"X-Client-Id": clientID}
		if apiKey != "" {
			m["X-API-Key"] = apiKey
		}
		return m
	}

	var ctl *control.Client
	sessionID := ""
	if controlURL != "" {
		ctl = control.NewClient(controlURL,
			control.WithTimeout(8*time.Second),
			control.WithHeaderProvider(headers))

		ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		info, err := ctl.CreateSession(ctx, control.CreateSessionRequest{ClientID: clientID, AppName: "assurecheck"})
		cancel()
		if err != nil {
			log.Printf("control create session error: %v", err)
		} else {
			log.Printf("control ok: session=%s socket=%s", info.SessionID, info.SocketURL)
			sessionID = info.SessionID
			if sessionURL == "" {
				sessionURL = info.SocketURL
			}

			sctx, scancel := context.WithTimeout(context.Background(), 8*time.Second)
			if st, serr := ctl.SessionStatus(sctx, info.SessionID); serr != nil {
				log.Printf("session status error: %v", serr)
			} else {
				log.Printf("session status: state=%s clients=%d", st.State, st.ConnectedClients)
			}
			scancel()
		}
	}

	if sessionURL == "" {
		log.Println("ASSURE_SESSION_URL not set; skipping socket check")
		return
	}

	rec := &socket.RecordingListener{}
	c := socket.NewClient(rec, socket.WithDialer(socket.NewWSDialer(
		socket.WithDialTimeout(8*time.Second),
		socket.WithHeaderProvider(headers))))

	c.Connect(context.Background(), sessionURL)
	if !socket.WaitUntil(10*time.Second, func() bool { return rec.ConnectCount() >= 1 }) {
		log.Printf("socket never opened: state=%s errors=%v", c.State(), rec.Errors())
		os.Exit(1)
	}
	log.Printf("socket open: state=%s", c.State())

	probe := assurancedto.New(assurancedto.VendorAgent, assurancedto.TypeLog, map[string]any{"message": "assurecheck probe"})
	probe.Number = 1
	c.Send(probe)

	// Observe inbound traffic for a short window.
	time.Sleep(2 * time.Second)
	for _, ev := range rec.Events() {
		fmt.Printf("inbound vendor=%s type=%s id=%s\n", ev.Vendor, ev.Type, ev.ID)
	}

	c.Disconnect()
	if !socket.WaitUntil(5*time.Second, func() bool { return len(rec.Disconnects()) >= 1 }) {
		log.Println("socket close did not complete")
		os.Exit(1)
	}
	d := rec.Disconnects()[0]
	log.Printf("socket closed: code=%d clean=%v", d.Code, d.WasClean)

	if ctl != nil && sessionID != "" {
		ectx, ecancel := context.WithTimeout(context.Background(), 8*time.Second)
		if err := ctl.EndSession(ectx, sessionID); err != nil {
			log.Printf("end session error: %v", err)
		}
		ecancel()
	}

	if errs := rec.Errors(); len(errs) > 0 {
		log.Printf("socket reported errors: %v", errs)
		os.Exit(1)
	}
}
