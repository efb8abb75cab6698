package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/persistorai/queuecall/client"
)

// printFrame writes one gateway frame as a single line: compact JSON in
// json format, a short description otherwise.
func printFrame(w io.Writer, env *client.Envelope) {
	if flagFmt == "json" || flagFmt == "" {
		data, err := json.Marshal(env)
		if err != nil {
			fmt.Fprintf(w, "unencodable frame: %v\n", err)
			return
		}
		fmt.Fprintln(w, string(data))
		return
	}
	fmt.Fprintln(w, describeFrame(env))
}

func describeFrame(env *client.Envelope) string {
	var b strings.Builder
	b.WriteString("[" + env.Status)
	if env.Kind != "" {
		b.WriteString("/" + env.Kind)
	}
	b.WriteString("]")
	if env.Seq > 0 {
		fmt.Fprintf(&b, " seq=%d", env.Seq)
	}
	if env.Message != "" {
		b.WriteString(" " + env.Message)
	}

	var lobby client.LobbyState
	if env.Decode(&lobby) == nil && lobby.Announce != nil {
		fmt.Fprintf(&b, " calling %d at %s", lobby.Announce.CurrentNumber, lobby.Announce.CounterName)
		return b.String()
	}

	var st client.CounterState
	if env.Decode(&st) != nil {
		return b.String()
	}
	if st.Mode != "" {
		fmt.Fprintf(&b, " mode=%s", st.Mode)
	}
	if st.CurrentNumber != nil {
		fmt.Fprintf(&b, " number=%d", *st.CurrentNumber)
		if st.StatusTicket != "" {
			fmt.Fprintf(&b, " (%s)", st.StatusTicket)
		}
	}
	if env.Kind == "waiting" || st.WaitingCount > 0 {
		fmt.Fprintf(&b, " waiting=%d", st.WaitingCount)
	}
	if len(st.History) > 0 {
		last := st.History[0]
		fmt.Fprintf(&b, " last=%d/%s", last.Number, last.Status)
	}
	return b.String()
}
