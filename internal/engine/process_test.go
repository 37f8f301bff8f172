package engine

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scriptEngine(t *testing.T, body string) *ProcessEngine {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "main.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return NewProcessEngine(ProcessConfig{Python: sh, Script: path}, testRoster(t))
}

func TestProcessEngine_Success(t *testing.T) {
	eng := scriptEngine(t, `#!/bin/sh
[ "$1" = "--action" ] && [ "$2" = "analyze" ] || exit 3
echo "warming up"
echo '{"success":true,"data":{"agents":{"scalper":{"id":"s","analysis":{"signal":"BUY","confidence_score":0.7,"entry_price":1.1}}}}}'
`)
	res, err := eng.Analyze(context.Background(), NewRequest("eurusd", time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC), ModeQuick))
	require.NoError(t, err)
	assert.Equal(t, "process", res.Transport)
	require.Len(t, res.Agents, 1)
	assert.InDelta(t, 0.7, res.Agents[0].Confidence, 1e-9)
}

func TestProcessEngine_ParamsCarryRequest(t *testing.T) {
	eng := scriptEngine(t, `#!/bin/sh
case "$4" in
  *'"pair":"GBPUSD"'*'"date":"2025-02-03"'*'"mode":"deep"'*) ;;
  *) echo "bad params: $4" >&2; exit 4 ;;
esac
echo '{"success":true,"data":{"agents":{}}}'
`)
	_, err := eng.Analyze(context.Background(), NewRequest("gbpusd", time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC), ModeDeep))
	assert.NoError(t, err)
}

func TestProcessEngine_NonZeroExit(t *testing.T) {
	eng := scriptEngine(t, `#!/bin/sh
echo '{"success": false, "error": "model quota exceeded"}'
echo "Traceback" >&2
exit 1
`)
	_, err := eng.Analyze(context.Background(), NewRequest("EURUSD", time.Now(), ModeQuick))
	require.Error(t, err)
	var ue *UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ReasonExitStatus, ue.Reason)
	assert.Equal(t, 1, ue.ExitCode)
	assert.Contains(t, ue.Detail, "model quota exceeded")
}

func TestProcessEngine_Canceled(t *testing.T) {
	eng := scriptEngine(t, "#!/bin/sh\nexec sleep 5\n")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := eng.Analyze(ctx, NewRequest("EURUSD", time.Now(), ModeQuick))
	assert.True(t, IsCanceled(err))
}
