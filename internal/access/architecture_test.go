package access

import (
	"testing"

	"campaigncore/testutil"
)

func TestPolicyPackagesStayStorageAgnostic(t *testing.T) {
	forbidden := testutil.AnyOf(testutil.AdapterImport, testutil.StorageDriverImport, testutil.TransportImport)
	for _, dir := range []string{".", "../recurrence", "../publish"} {
		testutil.AssertNoDirectImports(t, dir, forbidden, dir+" must work against domain views only")
	}
	if testing.Short() {
		return
	}
	testutil.AssertNoTransitiveDependency(t, ".", forbidden, "access resolver must stay dependency free")
}
