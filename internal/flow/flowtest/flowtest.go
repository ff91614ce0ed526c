// Package flowtest provides flow fixtures shared by rule and loop tests.
package flowtest

import (
	"encoding/json"

	"flowsmith/internal/flow"
)

// ValidJSON is a minimal flow that passes every structural rule:
// start -> send -> assert -> afterAll -> process.
const ValidJSON = `{
  "name": "E2E Slack send channel message",
  "flow": {
    "start": {
      "type": "appmixer.utils.controls.OnStart",
      "source": {},
      "config": {}
    },
    "send": {
      "type": "appmixer.slack.list.SendChannelMessage",
      "source": { "in": { "start": ["out"] } },
      "config": {
        "transform": { "in": { "start": { "out": {
          "type": "json2new",
          "modifiers": { "text": { "v1": { "variable": "$.start.out.started", "functions": [] } } },
          "lambda": { "channelId": "C0123456789", "text": "Run started at {{{v1}}}" }
        } } } }
      }
    },
    "assert": {
      "type": "appmixer.utils.test.Assert",
      "source": { "in": { "send": ["out"] } },
      "config": {
        "transform": { "in": { "send": { "out": {
          "type": "json2new",
          "modifiers": { "expression": { "v2": { "variable": "$.send.out.ts", "functions": [] } } },
          "lambda": { "expression": { "AND": [ { "field": "{{{v2}}}", "assertion": "notEmpty" } ] } }
        } } } }
      }
    },
    "afterAll": {
      "type": "appmixer.utils.test.AfterAll",
      "source": { "in": { "assert": ["out"] } },
      "config": {}
    },
    "process": {
      "type": "appmixer.utils.test.ProcessE2EResults",
      "source": { "in": { "afterAll": ["out"] } },
      "config": {
        "properties": { "successStoreId": "store-success", "failedStoreId": "store-failed" },
        "transform": { "in": { "afterAll": { "out": {
          "type": "json2new",
          "modifiers": { "result": { "r1": { "variable": "$.afterAll.out.result", "functions": [] } } },
          "lambda": { "result": "{{{r1}}}" }
        } } } }
      }
    }
  }
}`

// Valid returns a fresh decoded copy of ValidJSON that callers may mutate.
func Valid() map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(ValidJSON), &m); err != nil {
		panic(err)
	}
	return m
}

// ValidDoc parses ValidJSON.
func ValidDoc() *flow.Document { return flow.FromMap(Valid()) }

// Component returns the raw component object id inside a decoded flow.
func Component(m map[string]any, id string) map[string]any {
	return m["flow"].(map[string]any)[id].(map[string]any)
}

// Out returns config.transform.in.<src>.out of component id.
func Out(m map[string]any, id, src string) map[string]any {
	cfg := Component(m, id)["config"].(map[string]any)
	in := cfg["transform"].(map[string]any)["in"].(map[string]any)
	return in[src].(map[string]any)["out"].(map[string]any)
}

// SourceIn returns source.in of component id, creating it when absent.
func SourceIn(m map[string]any, id string) map[string]any {
	c := Component(m, id)
	src, _ := c["source"].(map[string]any)
	if src == nil {
		src = map[string]any{}
		c["source"] = src
	}
	in, _ := src["in"].(map[string]any)
	if in == nil {
		in = map[string]any{}
		src["in"] = in
	}
	return in
}
