package builtins

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myshell-go/myshell/internal/history"
	"github.com/myshell-go/myshell/internal/jobtable"
	"github.com/myshell-go/myshell/internal/signals"
)

func newCtx() (*Context, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return &Context{
		Jobs:    jobtable.New(),
		History: history.New(),
		Stdin:   bytes.NewReader(nil),
		Stdout:  &out,
		Stderr:  &errOut,
	}, &out, &errOut
}

func TestIsBuiltinRecognizesAllSixteen(t *testing.T) {
	for _, n := range []string{
		"cd", "pwd", "exit", "echo", "mkdir", "rmdir", "touch", "rm",
		"cat", "ls", "jobs", "fg", "bg", "history", "export", "unset",
	} {
		assert.True(t, IsBuiltin(n), n)
	}
	assert.False(t, IsBuiltin("ps"))
}

func TestEchoJoinsArgsWithSpace(t *testing.T) {
	ctx, out, _ := newCtx()
	status := Execute(ctx, []string{"echo", "hello", "world"})
	assert.Equal(t, 0, status)
	assert.Equal(t, "hello world\n", out.String())
}

func TestEchoDashNSuppressesNewline(t *testing.T) {
	ctx, out, _ := newCtx()
	Execute(ctx, []string{"echo", "-n", "hi"})
	assert.Equal(t, "hi", out.String())
}

func TestPwdReportsCwd(t *testing.T) {
	ctx, out, _ := newCtx()
	status := Execute(ctx, []string{"pwd"})
	require.Equal(t, 0, status)
	want, _ := os.Getwd()
	assert.Equal(t, want+"\n", out.String())
}

func TestMkdirMissingOperand(t *testing.T) {
	ctx, _, errOut := newCtx()
	status := Execute(ctx, []string{"mkdir"})
	assert.Equal(t, 1, status)
	assert.Equal(t, "myshell: mkdir: missing operand\n", errOut.String())
}

func TestMkdirAndRmdirRoundTrip(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "sub")

	ctx, _, _ := newCtx()
	require.Equal(t, 0, Execute(ctx, []string{"mkdir", target}))
	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.Equal(t, 0, Execute(ctx, []string{"rmdir", target}))
	_, err = os.Stat(target)
	assert.True(t, os.IsNotExist(err))
}

func TestTouchCreatesFileWithoutTouchingMtimeOfExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")

	ctx, _, _ := newCtx()
	require.Equal(t, 0, Execute(ctx, []string{"touch", path}))
	before, err := os.Stat(path)
	require.NoError(t, err)

	require.Equal(t, 0, Execute(ctx, []string{"touch", path}))
	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestRmRequiresRecursiveForDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))

	ctx, _, errOut := newCtx()
	status := Execute(ctx, []string{"rm", sub})
	assert.Equal(t, 1, status)
	assert.Contains(t, errOut.String(), "is a directory")

	ctx2, _, _ := newCtx()
	status = Execute(ctx2, []string{"rm", "-r", sub})
	assert.Equal(t, 0, status)
	_, err := os.Stat(sub)
	assert.True(t, os.IsNotExist(err))
}

func TestRmForceSuppressesErrors(t *testing.T) {
	ctx, _, errOut := newCtx()
	status := Execute(ctx, []string{"rm", "-f", "/no/such/path"})
	assert.Equal(t, 0, status)
	assert.Empty(t, errOut.String())
}

func TestRmInvalidOption(t *testing.T) {
	ctx, _, errOut := newCtx()
	status := Execute(ctx, []string{"rm", "-z", "x"})
	assert.Equal(t, 1, status)
	assert.Equal(t, "myshell: rm: invalid option -- 'z'\n", errOut.String())
}

func TestCatReadsStdinWhenNoArgs(t *testing.T) {
	ctx, out, _ := newCtx()
	ctx.Stdin = bytes.NewBufferString("piped data")
	status := Execute(ctx, []string{"cat"})
	assert.Equal(t, 0, status)
	assert.Equal(t, "piped data", out.String())
}

func TestCatMissingFileReportsError(t *testing.T) {
	ctx, _, errOut := newCtx()
	status := Execute(ctx, []string{"cat", "/no/such/file"})
	assert.Equal(t, 1, status)
	assert.Contains(t, errOut.String(), "myshell: cat: /no/such/file:")
}

func TestLsHidesDotfilesUnlessDashA(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "visible"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), nil, 0644))

	ctx, out, _ := newCtx()
	require.Equal(t, 0, Execute(ctx, []string{"ls", dir}))
	assert.Contains(t, out.String(), "visible")
	assert.NotContains(t, out.String(), ".hidden")

	ctx2, out2, _ := newCtx()
	require.Equal(t, 0, Execute(ctx2, []string{"ls", "-a", dir}))
	assert.Contains(t, out2.String(), ".hidden")
}

func TestJobsListsNonDoneEntries(t *testing.T) {
	ctx, out, _ := newCtx()
	id, err := ctx.Jobs.AddJob(4242, "sleep 100", jobtable.Running)
	require.NoError(t, err)

	status := Execute(ctx, []string{"jobs"})
	assert.Equal(t, 0, status)
	assert.Equal(t, fmt.Sprintf("[%d] Running sleep 100\n", id), out.String())
}

func TestFgUsageError(t *testing.T) {
	ctx, _, errOut := newCtx()
	status := Execute(ctx, []string{"fg"})
	assert.Equal(t, 1, status)
	assert.Equal(t, "myshell: fg: usage: fg [job_id]\n", errOut.String())
}

func TestFgNoSuchJob(t *testing.T) {
	ctx, _, errOut := newCtx()
	status := Execute(ctx, []string{"fg", "9"})
	assert.Equal(t, 1, status)
	assert.Equal(t, "myshell: fg: 9: no such job\n", errOut.String())
}

func TestFgClaimsAndReleasesForegroundRole(t *testing.T) {
	ctx, _, _ := newCtx()
	ctx.Roles = signals.NewRoleTable()
	const pgid = 999999 // no real process group; Wait4 fails immediately
	id, err := ctx.Jobs.AddJob(pgid, "sleep 100", jobtable.Running)
	require.NoError(t, err)

	Execute(ctx, []string{"fg", strconv.Itoa(id)})

	_, ok := ctx.Roles.Get(pgid)
	assert.False(t, ok, "fg must release its Foreground claim once its wait loop exits")
}

func TestBgRequiresStoppedJob(t *testing.T) {
	ctx, _, errOut := newCtx()
	id, err := ctx.Jobs.AddJob(4343, "sleep 100 &", jobtable.Running)
	require.NoError(t, err)

	status := Execute(ctx, []string{"bg", strconv.Itoa(id)})
	assert.Equal(t, 1, status)
	assert.Contains(t, errOut.String(), "is not stopped")
}

func TestHistoryRendersRing(t *testing.T) {
	ctx, out, _ := newCtx()
	ctx.History.Add("ls")
	ctx.History.Add("pwd")

	status := Execute(ctx, []string{"history"})
	assert.Equal(t, 0, status)
	assert.Equal(t, "    1  ls\n    2  pwd\n", out.String())
}

func TestExportNoArgsListsAll(t *testing.T) {
	os.Setenv("MYSHELL_TEST_VAR", "1")
	defer os.Unsetenv("MYSHELL_TEST_VAR")

	ctx, out, _ := newCtx()
	status := Execute(ctx, []string{"export"})
	assert.Equal(t, 0, status)
	assert.Contains(t, out.String(), "declare -x MYSHELL_TEST_VAR=1\n")
}

func TestExportSetsVariable(t *testing.T) {
	defer os.Unsetenv("MYSHELL_TEST_VAR2")
	ctx, _, _ := newCtx()
	status := Execute(ctx, []string{"export", "MYSHELL_TEST_VAR2=hi"})
	assert.Equal(t, 0, status)
	assert.Equal(t, "hi", os.Getenv("MYSHELL_TEST_VAR2"))
}

func TestExportBareUnsetVariableErrors(t *testing.T) {
	ctx, _, errOut := newCtx()
	status := Execute(ctx, []string{"export", "MYSHELL_DEFINITELY_UNSET"})
	assert.Equal(t, 1, status)
	assert.Equal(t, "myshell: export: MYSHELL_DEFINITELY_UNSET: variable not set\n", errOut.String())
}

func TestUnsetUsageError(t *testing.T) {
	ctx, _, errOut := newCtx()
	status := Execute(ctx, []string{"unset"})
	assert.Equal(t, 1, status)
	assert.Equal(t, "myshell: unset: usage: unset [variable...]\n", errOut.String())
}

func TestUnsetRemovesVariable(t *testing.T) {
	os.Setenv("MYSHELL_TEST_VAR3", "x")
	ctx, _, _ := newCtx()
	status := Execute(ctx, []string{"unset", "MYSHELL_TEST_VAR3"})
	assert.Equal(t, 0, status)
	_, ok := os.LookupEnv("MYSHELL_TEST_VAR3")
	assert.False(t, ok)
}
