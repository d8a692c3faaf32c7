// Package testdb provides database fixtures for tests.
//
// Every test gets a freshly migrated database. By default this is a private
// in-memory SQLite database, so tests run without external services and may
// call t.Parallel(). When LEITBOX_TEST_DATABASE_URL (or DATABASE_URL) is set
// the fixtures connect to that PostgreSQL database instead, which is how the
// integration suite exercises the postgres dialect.
//
// # Basic Usage
//
//	func TestMyFeature(t *testing.T) {
//	    t.Parallel()
//
//	    env := testdb.New(t)
//	    box, err := domain.NewBox(userID, "German", 10)
//	    require.NoError(t, err)
//	    require.NoError(t, env.Boxes.Create(context.Background(), box))
//	}
//
// Tests that need to observe rollback behaviour can use WithTx, which always
// rolls the transaction back when the function returns.
package testdb
