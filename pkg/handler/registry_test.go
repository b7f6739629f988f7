package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/queryagent/pkg/apperrors"
	"github.com/kadirpekel/queryagent/pkg/model"
)

type fakeHandler struct{ kind model.Kind }

func (f *fakeHandler) Kind() model.Kind                   { return f.kind }
func (f *fakeHandler) Connect(ctx context.Context) error  { return nil }
func (f *fakeHandler) Disconnect(ctx context.Context) error { return nil }
func (f *fakeHandler) Test(ctx context.Context) (*model.TestResult, error) {
	return &model.TestResult{Success: true}, nil
}
func (f *fakeHandler) Schema(ctx context.Context, includeColumns bool) (*model.SchemaSnapshot, error) {
	return &model.SchemaSnapshot{}, nil
}
func (f *fakeHandler) Execute(ctx context.Context, query string, params map[string]interface{}) (*model.QueryResult, error) {
	return &model.QueryResult{Success: true}, nil
}
func (f *fakeHandler) SupportedOperations() []string { return []string{"SELECT"} }

func init() {
	Register(model.KindSQLite, func(cfg *model.ConnectionConfig) (Handler, error) {
		return &fakeHandler{kind: model.KindSQLite}, nil
	})
}

func TestDescribeKnownKind(t *testing.T) {
	d, err := Describe(model.KindMySQL)
	require.NoError(t, err)
	assert.Equal(t, model.KindMySQL, d.Kind)
	assert.NotEmpty(t, d.Fields)
}

func TestDescribeUnknownKind(t *testing.T) {
	_, err := Describe(model.Kind("not_a_real_kind"))
	require.Error(t, err)
	assert.Equal(t, apperrors.UnsupportedKind, apperrors.KindOf(err))
}

func TestDescribeAllCoversEveryKind(t *testing.T) {
	all := DescribeAll()
	assert.Len(t, all, len(allKinds))
	for _, d := range all {
		assert.NotEmpty(t, d.Fields)
	}
}

func TestDescribeReportsInstalledOnlyForLinkedKinds(t *testing.T) {
	sqliteDesc, err := Describe(model.KindSQLite)
	require.NoError(t, err)
	assert.True(t, sqliteDesc.Installed)

	redisDesc, err := Describe(model.KindRedis)
	require.NoError(t, err)
	assert.False(t, redisDesc.Installed)
}

func TestSupportedKindsOnlyListsLinkedConstructors(t *testing.T) {
	kinds := SupportedKinds()
	assert.Contains(t, kinds, model.KindSQLite)
	assert.NotContains(t, kinds, model.KindMySQL)
}

func TestMakeRejectsUnknownKind(t *testing.T) {
	_, err := Make(context.Background(), &model.ConnectionConfig{Kind: model.Kind("not_a_real_kind")})
	require.Error(t, err)
	assert.Equal(t, apperrors.UnsupportedKind, apperrors.KindOf(err))
}

func TestMakeRejectsMissingRequiredFields(t *testing.T) {
	_, err := Make(context.Background(), &model.ConnectionConfig{Kind: model.KindSQLite})
	require.Error(t, err)
	assert.Equal(t, apperrors.ConfigInvalid, apperrors.KindOf(err))
}

func TestMakeRejectsKindWithNoLinkedConstructor(t *testing.T) {
	_, err := Make(context.Background(), &model.ConnectionConfig{
		Kind: model.KindMySQL,
		Host: "localhost", Database: "db", Username: "u",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.UnsupportedKind, apperrors.KindOf(err))
}

func TestMakeBuildsHandlerForLinkedKind(t *testing.T) {
	h, err := Make(context.Background(), &model.ConnectionConfig{
		Kind: model.KindSQLite, FilePath: "/tmp/x.db",
	})
	require.NoError(t, err)
	assert.Equal(t, model.KindSQLite, h.Kind())
}
