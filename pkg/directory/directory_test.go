package directory

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coupledsim/fmigate/pkg/modeldesc"
	"github.com/coupledsim/fmigate/pkg/shm"
	"github.com/coupledsim/fmigate/pkg/types"
)

func testDoc(t *testing.T) *modeldesc.Document {
	t.Helper()
	doc, err := modeldesc.ParseBytes([]byte(`<fmiModelDescription fmiVersion="1.0" modelName="m" guid="g">
  <ModelVariables>
    <ScalarVariable name="u" valueReference="1" causality="input"><Real start="0.5"/></ScalarVariable>
    <ScalarVariable name="y" valueReference="2" causality="output"><Real/></ScalarVariable>
    <ScalarVariable name="n" valueReference="3" causality="input"><Integer start="4"/></ScalarVariable>
    <ScalarVariable name="flag" valueReference="4" causality="output"><Boolean start="true"/></ScalarVariable>
    <ScalarVariable name="tag" valueReference="5" causality="input"><String start="abc"/></ScalarVariable>
  </ModelVariables>
</fmiModelDescription>`))
	require.NoError(t, err)
	return doc
}

func testSegment(t *testing.T) *shm.Segment {
	t.Helper()
	id := fmt.Sprintf("fmigate_dir_%d_%d", time.Now().UnixNano(), rand.Intn(1<<16))
	seg, err := shm.Create(id, 1<<16, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		seg.Close()
		seg.Remove()
	})
	return seg
}

func TestBuildPopulatesRecords(t *testing.T) {
	seg := testSegment(t)
	d, err := Build(seg, testDoc(t), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 5, d.Len())

	u, ok := d.Real(1)
	require.True(t, ok)
	assert.Equal(t, "u", u.Name())
	assert.Equal(t, types.CausalityInput, u.Causality())
	assert.Equal(t, 0.5, u.Real())

	n, ok := d.Integer(3)
	require.True(t, ok)
	assert.Equal(t, int64(4), n.Integer())

	flag, ok := d.Boolean(4)
	require.True(t, ok)
	assert.True(t, flag.Bool())

	tag, ok := d.String(5)
	require.True(t, ok)
	assert.Equal(t, "abc", tag.String())
}

func TestBuildNameIndices(t *testing.T) {
	seg := testSegment(t)
	d, err := Build(seg, testDoc(t), zerolog.Nop())
	require.NoError(t, err)

	ref, kind, ok := d.RefByName("y")
	require.True(t, ok)
	assert.Equal(t, types.ValueReference(2), ref)
	assert.Equal(t, types.KindReal, kind)

	_, _, ok = d.RefByName("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"flag", "n", "tag", "u", "y"}, d.Names())
}

func TestBuildRejectsDuplicateNames(t *testing.T) {
	doc, err := modeldesc.ParseBytes([]byte(`<fmiModelDescription fmiVersion="1.0" guid="g">
  <ModelVariables>
    <ScalarVariable name="x" valueReference="1"><Real/></ScalarVariable>
    <ScalarVariable name="x" valueReference="2"><Real/></ScalarVariable>
  </ModelVariables>
</fmiModelDescription>`))
	require.NoError(t, err)

	_, err = Build(testSegment(t), doc, zerolog.Nop())
	assert.Error(t, err)
}

func TestRecordsVisibleThroughSecondAttachment(t *testing.T) {
	seg := testSegment(t)
	_, err := Build(seg, testDoc(t), zerolog.Nop())
	require.NoError(t, err)

	peer, err := shm.Open(seg.ID(), zerolog.Nop())
	require.NoError(t, err)
	defer peer.Close()

	recs, err := peer.FindRecordVector(types.VectorRealScalars, types.KindReal)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "u", recs[0].Name())
	assert.Equal(t, "y", recs[1].Name())
}

func TestUnknownHandle(t *testing.T) {
	seg := testSegment(t)
	d, err := Build(seg, testDoc(t), zerolog.Nop())
	require.NoError(t, err)

	_, ok := d.Real(99)
	assert.False(t, ok)
}
