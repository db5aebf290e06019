package trace_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/cfgds/internal/ir/irtest"
	"github.com/zjy-dev/cfgds/internal/trace"
	"github.com/zjy-dev/cfgds/internal/trace/tracetest"
)

func TestEncodeDecode(t *testing.T) {
	p := irtest.MustParse(irtest.Calls)
	classify := irtest.MustMethod(p, "Demo.classify")
	abs := irtest.MustMethod(p, "Util.abs")

	tr := tracetest.New().
		Enter(classify).Block(classify, "entry").
		Call(classify, "entry", 0, abs).
		Enter(abs).Blocks(abs, "entry", "keep").
		Leave(classify, "entry").
		Blocks(classify, "small").
		Trace()

	data, err := json.Marshal(trace.Encode(tr))
	require.NoError(t, err)

	var recs []trace.Record
	require.NoError(t, json.Unmarshal(data, &recs))
	got, err := trace.Decode(p, recs)
	require.NoError(t, err)

	assert.Equal(t, tr.Actions(), got.Actions())
	assert.Equal(t, "method-call", recs[2].Kind)
	assert.Equal(t, "Demo.classify", recs[2].SiteMethod)
}

func TestDecodeExternalCallee(t *testing.T) {
	p := irtest.MustParse(irtest.Calls)
	recs := []trace.Record{
		{Kind: "method-entry", Method: "Demo.classify"},
		{Kind: "block-entry", Method: "Demo.classify", Block: "entry"},
		{Kind: "method-call", Method: "java.lang.Math.abs", SiteMethod: "Demo.classify", SiteBlock: "entry", SiteIndex: 0},
	}
	tr, err := trace.Decode(p, recs)
	require.NoError(t, err)
	assert.Nil(t, tr.At(2).Method)
	assert.NotNil(t, tr.At(2).Call)
}

func TestDecodeErrors(t *testing.T) {
	p := irtest.MustParse(irtest.Calls)
	tests := []struct {
		name string
		rec  trace.Record
		want string
	}{
		{"unknown kind", trace.Record{Kind: "teleport"}, `unknown action kind "teleport"`},
		{"unknown method", trace.Record{Kind: "method-entry", Method: "Nope.f"}, "unknown method Nope.f"},
		{"unknown block", trace.Record{Kind: "block-entry", Method: "Demo.classify", Block: "zzz"}, "unknown block zzz"},
		{"site not a call", trace.Record{Kind: "method-call", Method: "Util.abs", SiteMethod: "Demo.classify", SiteBlock: "entry", SiteIndex: 1}, "is not a call"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := trace.Decode(p, []trace.Record{tt.rec})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
