package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"hexfront.gg/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	envelopeSchema := compile("envelope.schema.json")
	invokeSchema := compile("invoke.schema.json")
	resultsSchema := compile("results.schema.json")
	publishSchema := compile("channel_publish.schema.json")
	quarantineSchema := compile("quarantine.schema.json")

	var envelope any
	_ = json.Unmarshal([]byte(`{
	  "from":{"name":"server","addr":":8777"},
	  "to":{"name":"player (1)"},
	  "type":"SPOKE_INVOKE",
	  "payload":{}
	}`), &envelope)
	validate(envelopeSchema, envelope)

	var invoke any
	_ = json.Unmarshal([]byte(`{
	  "method_call_id":42,
	  "needs_return_value":true,
	  "call":{
	    "remote_name":"games.strategy.engine.framework.ServerGame.SERVER_REMOTE",
	    "method":"get_save_game",
	    "args":[]
	  },
	  "invoker":{"name":"server"}
	}`), &invoke)
	validate(invokeSchema, invoke)

	var results any
	_ = json.Unmarshal([]byte(`{
	  "method_call_id":42,
	  "error":"no such remote: X",
	  "error_code":"E_NO_SUCH_REMOTE"
	}`), &results)
	validate(resultsSchema, results)

	var publish any
	_ = json.Unmarshal([]byte(`{
	  "channel":"GAME_MODIFICATION_CHANNEL",
	  "method":"game_data_changed",
	  "args":[{"kind":"change_owner","payload":{}}]
	}`), &publish)
	validate(publishSchema, publish)

	for _, frame := range []string{
		`{"name":"player"}`,
		`{"mac":"aa:bb:cc"}`,
		`{"properties":null}`,
		`{"properties":{"salt":"x"}}`,
		`{"error":"login refused"}`,
		`{"unique_name":"player (1)","server_name":"server"}`,
		`{"remote_addr":"10.0.0.2:55123","server_addr":":8777"}`,
	} {
		var v any
		_ = json.Unmarshal([]byte(frame), &v)
		validate(quarantineSchema, v)
	}
}

// The encoded Go types must themselves satisfy the published schemas.
func TestSchemas_EncodedTypesConform(t *testing.T) {
	envelopeSchema, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", "envelope.schema.json"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	h, err := protocol.NewHeader(
		protocol.Node{Name: "server", Addr: ":8777"},
		protocol.Node{Name: "spoke"},
		protocol.TypeChannelPublish,
		protocol.ChannelPublish{Channel: protocol.GameModificationChannel, Method: "step_changed"},
	)
	if err != nil {
		t.Fatalf("new header: %v", err)
	}
	b, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := envelopeSchema.Validate(v); err != nil {
		t.Fatalf("encoded header does not satisfy schema: %v", err)
	}
}
