package schema

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"contact-aggregator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const authority = "com.android.contacts"

type fakeAccounts struct {
	adapters    []SyncAdapter
	auths       []Authenticator
	adaptersErr error
	calls       int
}

func (f *fakeAccounts) SyncAdapterTypes(ctx context.Context) ([]SyncAdapter, error) {
	f.calls++
	return f.adapters, f.adaptersErr
}

func (f *fakeAccounts) Authenticators(ctx context.Context) ([]Authenticator, error) {
	return f.auths, nil
}

// fakeProbe serves documents keyed by package and metadata name.
type fakeProbe struct {
	docs   map[string]map[string]string
	errs   map[string]error
	probed []string
}

func (f *fakeProbe) FindSchemaResource(ctx context.Context, pkg string, names []string) (io.ReadCloser, error) {
	f.probed = append(f.probed, pkg)
	if err := f.errs[pkg]; err != nil {
		return nil, err
	}
	for _, name := range names {
		if doc, ok := f.docs[pkg][name]; ok {
			return io.NopCloser(strings.NewReader(doc)), nil
		}
	}
	return nil, nil
}

func kind(mimeType, column string) string {
	return `<ContactsDataKind android:mimeType="` + mimeType + `" android:detailColumn="` + column + `"/>`
}

func doc(kinds ...string) string {
	return `<ContactsAccountType xmlns:android="http://schemas.android.com/apk/res/android">` +
		strings.Join(kinds, "") + `</ContactsAccountType>`
}

func newFixture() (*fakeAccounts, *fakeProbe) {
	accounts := &fakeAccounts{
		adapters: []SyncAdapter{
			{AccountType: "org.chat.account", Authority: authority},
			{AccountType: "org.voip.account", Authority: authority},
			{AccountType: "org.calendar.account", Authority: "com.android.calendar"},
		},
		auths: []Authenticator{
			{Type: "org.chat.account", Package: "org.chat"},
			{Type: "org.voip.account", Package: "org.voip"},
			{Type: "org.calendar.account", Package: "org.calendar"},
		},
	}
	probe := &fakeProbe{
		docs: map[string]map[string]string{
			"org.chat": {
				MetadataNames[0]: doc(kind("vnd.android.cursor.item/vnd.chat.profile", "data3")),
				MetadataNames[1]: doc(kind("vnd.android.cursor.item/vnd.chat.profile", "data9")),
			},
			"org.voip": {
				MetadataNames[1]: doc(
					kind("vnd.android.cursor.item/vnd.voip.call", "data4"),
					kind(models.PhoneTypeTag, "data7"),
					kind(models.EmailTypeTag, "data8"),
				),
			},
			"org.calendar": {
				MetadataNames[0]: doc(kind("vnd.android.cursor.item/vnd.calendar", "data2")),
			},
		},
	}
	return accounts, probe
}

func TestFetchAll_ScansSyncablePackages(t *testing.T) {
	accounts, probe := newFixture()
	registry := NewRegistry(accounts, probe, authority, zap.NewNop())

	cols := registry.FetchAll(context.Background())

	assert.Equal(t, map[string]string{
		"vnd.android.cursor.item/vnd.chat.profile": "data3",
		"vnd.android.cursor.item/vnd.voip.call":    "data4",
		models.PhoneTypeTag:                        "data1",
		models.EmailTypeTag:                        "data1",
	}, cols)
	assert.ElementsMatch(t, []string{"org.chat", "org.voip"}, probe.probed)
	assert.True(t, registry.Memoized())
}

func TestFetchAll_OverridesAlwaysWin(t *testing.T) {
	accounts, probe := newFixture()
	registry := NewRegistry(accounts, probe, authority, zap.NewNop())

	column, ok := registry.DetailColumn(context.Background(), models.PhoneTypeTag)
	require.True(t, ok)
	assert.Equal(t, "data1", column)

	column, ok = registry.DetailColumn(context.Background(), models.EmailTypeTag)
	require.True(t, ok)
	assert.Equal(t, "data1", column)
}

func TestFetchAll_Memoized(t *testing.T) {
	accounts, probe := newFixture()
	registry := NewRegistry(accounts, probe, authority, zap.NewNop())

	first := registry.FetchAll(context.Background())
	first["mutated"] = "data15"
	second := registry.FetchAll(context.Background())

	assert.Equal(t, 1, accounts.calls)
	assert.NotContains(t, second, "mutated")
}

func TestFetchAll_MalformedPackageContributesNothing(t *testing.T) {
	accounts, probe := newFixture()
	probe.docs["org.chat"] = map[string]string{
		MetadataNames[0]: `<ContactsAccountType>` + kind("vnd.android.cursor.item/vnd.chat.profile", "data3") + `<broken`,
	}
	registry := NewRegistry(accounts, probe, authority, zap.NewNop())

	cols := registry.FetchAll(context.Background())

	assert.NotContains(t, cols, "vnd.android.cursor.item/vnd.chat.profile")
	assert.Equal(t, "data4", cols["vnd.android.cursor.item/vnd.voip.call"])
	assert.True(t, registry.Memoized())
}

func TestFetchAll_IncompleteScanNotMemoized(t *testing.T) {
	accounts, probe := newFixture()
	probe.errs = map[string]error{"org.chat": errors.New("connection reset")}
	registry := NewRegistry(accounts, probe, authority, zap.NewNop())

	cols := registry.FetchAll(context.Background())
	assert.Equal(t, "data4", cols["vnd.android.cursor.item/vnd.voip.call"])
	assert.False(t, registry.Memoized())

	probe.errs = nil
	cols = registry.FetchAll(context.Background())
	assert.Equal(t, "data3", cols["vnd.android.cursor.item/vnd.chat.profile"])
	assert.True(t, registry.Memoized())
	assert.Equal(t, 2, accounts.calls)
}

func TestFetchAll_UnreadablePackageStillMemoized(t *testing.T) {
	accounts, probe := newFixture()
	probe.errs = map[string]error{
		"org.chat": fmt.Errorf("%w: too many levels of symbolic links", ErrUnreadableResource),
	}
	registry := NewRegistry(accounts, probe, authority, zap.NewNop())

	cols := registry.FetchAll(context.Background())
	assert.NotContains(t, cols, "vnd.android.cursor.item/vnd.chat.profile")
	assert.Equal(t, "data4", cols["vnd.android.cursor.item/vnd.voip.call"])
	assert.True(t, registry.Memoized())

	for i := 0; i < 3; i++ {
		registry.DetailColumn(context.Background(), "vnd.android.cursor.item/vnd.voip.call")
	}
	assert.Equal(t, 1, accounts.calls)
}

func TestFetchAll_RegistryFailureKeepsOverrides(t *testing.T) {
	accounts, probe := newFixture()
	accounts.adaptersErr = errors.New("registry unavailable")
	registry := NewRegistry(accounts, probe, authority, zap.NewNop())

	cols := registry.FetchAll(context.Background())

	assert.Equal(t, map[string]string{
		models.PhoneTypeTag: "data1",
		models.EmailTypeTag: "data1",
	}, cols)
	assert.False(t, registry.Memoized())
}

func TestFetchAll_CancelledContextNotMemoized(t *testing.T) {
	accounts, probe := newFixture()
	registry := NewRegistry(accounts, probe, authority, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	registry.FetchAll(ctx)

	assert.False(t, registry.Memoized())
	assert.Empty(t, probe.probed)
}

func TestDetailColumn_EmptyColumnIsAbsent(t *testing.T) {
	accounts, probe := newFixture()
	probe.docs["org.chat"] = map[string]string{
		MetadataNames[1]: doc(`<ContactsDataKind android:mimeType="vnd.android.cursor.item/vnd.chat.profile"/>`),
	}
	registry := NewRegistry(accounts, probe, authority, zap.NewNop())

	_, ok := registry.DetailColumn(context.Background(), "vnd.android.cursor.item/vnd.chat.profile")
	assert.False(t, ok)
	_, ok = registry.DetailColumn(context.Background(), "vnd.android.cursor.item/unknown")
	assert.False(t, ok)
}

func TestClear_ForcesRescan(t *testing.T) {
	accounts, probe := newFixture()
	registry := NewRegistry(accounts, probe, authority, zap.NewNop())

	registry.FetchAll(context.Background())
	registry.Clear()
	assert.False(t, registry.Memoized())

	registry.FetchAll(context.Background())
	assert.Equal(t, 2, accounts.calls)
}
