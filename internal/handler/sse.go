package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/google/uuid"
	"github.com/haatos/simple-dispatch/internal/service"
	"github.com/labstack/echo/v4"
)

// Event is one server-sent event frame of a run's event stream.
type Event struct {
	ID   string
	Name string
	Data []byte
}

// newRunEvent frames ev as a "job" event when it carries a job result and
// as a "status" event otherwise.
func newRunEvent(ev service.RunEvent) (*Event, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	name := "status"
	if ev.Job != nil {
		name = "job"
	}
	return &Event{ID: uuid.NewString(), Name: name, Data: data}, nil
}

// MarshalTo writes the frame in a single write. Data spanning several lines
// is sent as one data field per line.
func (ev *Event) MarshalTo(w io.Writer) error {
	if len(ev.Data) == 0 {
		return nil
	}

	var b bytes.Buffer
	if ev.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", ev.ID)
	}
	if ev.Name != "" {
		fmt.Fprintf(&b, "event: %s\n", ev.Name)
	}
	for line := range bytes.SplitSeq(ev.Data, []byte("\n")) {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteByte('\n')

	_, err := w.Write(b.Bytes())
	return err
}

func writeRunEvent(w *echo.Response, ev service.RunEvent) error {
	event, err := newRunEvent(ev)
	if err != nil {
		log.Printf("err marshaling run event: %+v\n", err)
		return err
	}
	if err := event.MarshalTo(w); err != nil {
		log.Printf("err writing event data: %+v\n", err)
		return err
	}
	w.Flush()
	return nil
}
