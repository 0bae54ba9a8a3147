package supervisorproto

import (
	"testing"

	"google.golang.org/grpc/encoding"
)

func TestJSONCodecRegisteredUnderProtoName(t *testing.T) {
	c := encoding.GetCodec(jsonCodec{}.Name())
	if c == nil {
		t.Fatal("expected a codec registered under the \"proto\" content-subtype name")
	}
}

func TestJSONCodecRoundTripsForwardRequest(t *testing.T) {
	c := jsonCodec{}
	want := &ForwardRequest{Method: "repl.run", Params: []byte(`{"language":"python","code":"1+1"}`)}

	data, err := c.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got ForwardRequest
	if err := c.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Method != want.Method || string(got.Params) != string(want.Params) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestJSONCodecRoundTripsMetricsResponse(t *testing.T) {
	c := jsonCodec{}
	cpu := 42.5
	want := &MetricsResponse{Running: true, CPUUsage: &cpu}

	data, err := c.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got MetricsResponse
	if err := c.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Running != want.Running || got.CPUUsage == nil || *got.CPUUsage != *want.CPUUsage {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}
