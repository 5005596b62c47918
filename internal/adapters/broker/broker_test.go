package broker

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestDefaultSchemes(t *testing.T) {
	r, _ := Default(time.Second)
	got := strings.Join(r.Schemes(), ",")
	want := "amqp,amqps,kafka,mem,mqtt,mqtts,redis,rediss,tcp"
	if got != want {
		t.Fatalf("schemes = %s, want %s", got, want)
	}
}

func TestDialDispatchesByScheme(t *testing.T) {
	r, mem := Default(time.Second)

	conn, err := r.Dial(context.Background(), "mem://local")
	if err != nil {
		t.Fatalf("dial mem: %v", err)
	}
	if mem.Stats().Connections != 1 {
		t.Fatalf("dial did not reach the shared memory broker")
	}
	conn.Close()

	if _, err := r.Dial(context.Background(), "stomp://localhost:61613"); err == nil || !strings.Contains(err.Error(), "unsupported broker scheme") {
		t.Fatalf("unexpected error %v", err)
	}
}
