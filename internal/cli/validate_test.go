package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var peopleDir = filepath.Join("testdata", "schemas", "people")

type validateResponse struct {
	Status string           `json:"status"`
	Data   ValidationResult `json:"data"`
	Error  *CLIError        `json:"error"`
}

func executeValidate(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func writeSchema(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.cue"), []byte(src), 0644))
	return dir
}

func TestValidateValidSchema(t *testing.T) {
	output, err := executeValidate(t, "text", peopleDir)
	require.NoError(t, err)
	assert.Contains(t, output, "OK 1 relation(s) valid")
	assert.Contains(t, output, "person")
	assert.Contains(t, output, "key=(id) attributes=3 rows=2")
}

func TestValidateValidSchemaJSON(t *testing.T) {
	output, err := executeValidate(t, "json", peopleDir)
	require.NoError(t, err)

	var resp validateResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, []RelationSummary{
		{Name: "person", Key: []string{"id"}, Attributes: 3, Rows: 2},
	}, resp.Data.Relations)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	output, err := executeValidate(t, "text", "/nonexistent/directory/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E005")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, "not found")
}

func TestValidateEmptyDirectory(t *testing.T) {
	_, err := executeValidate(t, "text", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E003")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateFloatRejection(t *testing.T) {
	output, err := executeValidate(t, "text", filepath.Join("testdata", "invalid", "float"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, output, "FAIL validation failed")
	assert.Contains(t, output, "E104")
}

func TestValidateInvalidSchemaJSON(t *testing.T) {
	dir := writeSchema(t, `package bad

relation: item: {
	attributes: {id: "int"}
}
`)
	output, err := executeValidate(t, "json", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp validateResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, ErrCodeKey, resp.Data.Errors[0].Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeKey, resp.Error.Code)
}

func TestValidateCUESyntaxError(t *testing.T) {
	dir := writeSchema(t, "package bad\n\nrelation: {\n")
	_, err := executeValidate(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestValidateVerboseOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json", Verbose: true})
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	cmd.SetArgs([]string{peopleDir})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, errBuf.String(), "relation person: 3 attribute(s), 2 row(s)")

	var resp validateResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestMapFieldToErrorCode(t *testing.T) {
	tests := []struct {
		field   string
		message string
		want    string
	}{
		{"cue", "expected '}'", ErrCodeBuildFailed},
		{"relation", "no relations declared", ErrCodeNoRelations},
		{"relation.person", "duplicate relation", ErrCodeRelation},
		{"relation.person.attributes", "attributes are required", ErrCodeAttributes},
		{"relation.person.attributes.score", "float types are forbidden; use int instead", ErrCodeInvalidType},
		{"relation.person.key", "key is required", ErrCodeKey},
		{"relation.person.rows", "duplicate key", ErrCodeRows},
		{"relation.person.rows[0].name", "floats are not allowed", ErrCodeRows},
		{"other", "x", ErrCodeGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.want, MapFieldToErrorCode(tt.field, tt.message))
		})
	}
}

func TestLoadSchema(t *testing.T) {
	sch, err := LoadSchema(peopleDir)
	require.NoError(t, err)
	rel, ok := sch.Relation("person")
	require.True(t, ok)
	assert.Len(t, rel.Rows, 2)

	_, err = LoadSchema(filepath.Join(t.TempDir(), "missing"))
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)
}
