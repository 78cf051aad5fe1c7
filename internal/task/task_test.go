package task

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/numerus/internal/mailer"
	"github.com/ternarybob/numerus/internal/model"
	"github.com/ternarybob/numerus/internal/params"
)

const testModelYAML = `
short_name: spectral
full_name: Spectral Model
invocation:
  mode: executable
  executable: /opt/models/spectral
parameters:
  - name: wavelengths
    type: range
    description: Wavelengths
    range_start: 400
    range_end: 2500
    range_step: 5
    units: nm
  - name: nSamples
    type: integer
    description: Number of Samples
    min: 100
    max: 10000
  - name: normalize
    type: boolean
    description: Normalize output
`

func testDefinition(t *testing.T) *model.Definition {
	t.Helper()
	def, err := model.ParseDefinition("spectral.yaml", []byte(testModelYAML))
	require.NoError(t, err)
	return def
}

func testRegistry(t *testing.T) (*model.Registry, *model.Definition) {
	t.Helper()
	reg := model.NewRegistry()
	def := testDefinition(t)
	reg.Add(def)
	return reg, def
}

func testValues(t *testing.T, def *model.Definition) []params.Value {
	t.Helper()
	var values []params.Value
	for name, raw := range map[string]any{
		"wavelengths": "420-500",
		"nSamples":    1000,
		"normalize":   true,
	} {
		v, err := def.Parameter(name).WithValue(raw)
		require.NoError(t, err)
		values = append(values, v)
	}
	return values
}

func TestRecordRoundTrip(t *testing.T) {
	reg, def := testRegistry(t)
	tk := New(def, "user@example.com", 7, testValues(t, def))
	assert.Len(t, tk.VisibleID, 8)

	rec := tk.Record()
	assert.Equal(t, "spectral", rec.ModelName)
	assert.Equal(t, def.Version, rec.ModelVersion)
	assert.Equal(t, uint64(7), rec.TaskID)

	// Survives a JSON round trip the way the wire and the snapshot use it.
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	var decoded Record
	require.NoError(t, json.Unmarshal(raw, &decoded))

	back, err := FromRecord(reg, decoded)
	require.NoError(t, err)
	assert.Equal(t, tk.EmailAddress, back.EmailAddress)
	assert.Equal(t, tk.TaskID, back.TaskID)
	assert.Equal(t, tk.VisibleID, back.VisibleID)
	require.Len(t, back.Parameters, 3)

	// Parameters come back in declaration order regardless of map order.
	assert.Equal(t, "wavelengths", back.Parameters[0].Spec.Name)
	assert.Equal(t, "nSamples", back.Parameters[1].Spec.Name)
	assert.Equal(t, "normalize", back.Parameters[2].Spec.Name)
	assert.Equal(t, [2]float64{420, 500}, back.Parameters[0].Range)
	assert.Equal(t, 1000.0, back.Parameters[1].Number)
	assert.True(t, back.Parameters[2].Flag)
}

func TestFromRecordMissingBoolean(t *testing.T) {
	reg, def := testRegistry(t)
	tk := New(def, "user@example.com", 1, testValues(t, def))

	rec := tk.Record()
	delete(rec.ModelParameters, "normalize")

	back, err := FromRecord(reg, rec)
	require.NoError(t, err)
	assert.False(t, back.Parameters[2].Flag)
}

func TestFromRecordMissingRequired(t *testing.T) {
	reg, def := testRegistry(t)
	tk := New(def, "user@example.com", 1, testValues(t, def))

	rec := tk.Record()
	delete(rec.ModelParameters, "nSamples")

	_, err := FromRecord(reg, rec)
	require.Error(t, err)
	var missing *params.MissingError
	assert.True(t, errors.As(err, &missing))
}

func TestFromRecordUnknownModel(t *testing.T) {
	reg, def := testRegistry(t)
	tk := New(def, "user@example.com", 1, testValues(t, def))

	rec := tk.Record()
	rec.ModelVersion = "deadbeef"

	_, err := FromRecord(reg, rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownModel))
}

func TestFromRecordUndeclaredParameter(t *testing.T) {
	reg, def := testRegistry(t)
	tk := New(def, "user@example.com", 1, testValues(t, def))

	rec := tk.Record()
	rec.ModelParameters["bogus"] = params.Serialized{Name: "bogus", Value: 1}

	_, err := FromRecord(reg, rec)
	assert.Error(t, err)
}

func TestParameterTables(t *testing.T) {
	_, def := testRegistry(t)
	tk := New(def, "user@example.com", 1, testValues(t, def))

	text := tk.TextParameterTable()
	assert.Contains(t, text, "Wavelengths: 420-500 nm")
	assert.Contains(t, text, "Number of Samples: 1000")

	latex := tk.LatexParameterTable()
	assert.Contains(t, latex, `\begin{tabular*}`)
	assert.Contains(t, latex, `Wavelengths & 420-500 nm`)
	assert.Contains(t, latex, `\textbf{Parameter} & \textbf{Value}`)
}

func TestConfirmationEmail(t *testing.T) {
	_, def := testRegistry(t)
	tk := New(def, "user@example.com", 1, testValues(t, def))

	emails, err := NewEmails("", "http://models.example.com/", 60)
	require.NoError(t, err)

	email, err := emails.Confirmation(tk, "AbCd1234AbCd1234")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", email.Recipient)
	assert.Contains(t, email.Subject, "Spectral Model")
	assert.Contains(t, email.Subject, tk.VisibleID)
	assert.Contains(t, email.Body, "http://models.example.com/confirm_submission/AbCd1234AbCd1234")
	assert.Contains(t, email.Body, "60 minutes")
	assert.Contains(t, email.Body, "Wavelengths: 420-500 nm")
}

func TestResultsEmailCarriesAttachments(t *testing.T) {
	_, def := testRegistry(t)
	tk := New(def, "user@example.com", 1, testValues(t, def))

	emails, err := NewEmails("", "http://models.example.com", 60)
	require.NoError(t, err)

	email, err := emails.Results(tk,
		[]mailer.Attachment{{Name: "reflectance.txt", Data: []byte("data")}},
		[]mailer.Attachment{{Name: "results.pdf", Data: []byte("%PDF")}})
	require.NoError(t, err)
	assert.Contains(t, email.Subject, tk.VisibleID)
	require.Len(t, email.TextAttachments, 1)
	require.Len(t, email.BinaryAttachments, 1)
}

func TestFailureAndLostEmails(t *testing.T) {
	reg, def := testRegistry(t)
	_ = reg
	tk := New(def, "user@example.com", 1, testValues(t, def))

	emails, err := NewEmails("", "http://models.example.com", 60)
	require.NoError(t, err)

	failure, err := emails.Failure(tk)
	require.NoError(t, err)
	assert.Contains(t, failure.Subject, "failed")
	assert.Contains(t, failure.Body, tk.VisibleID)

	lost, err := emails.Lost(tk.Record())
	require.NoError(t, err)
	assert.Contains(t, lost.Body, "spectral")

	cf, err := emails.ConfirmationFailed(tk.Record())
	require.NoError(t, err)
	assert.Contains(t, cf.Body, "spectral")
}
