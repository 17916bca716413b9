package hasura

import (
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// connectionString assembles the Postgres URI the GraphQL engine uses
// to reach the database. Host and port are placeholders resolved once
// the instance exists. Nothing is escaped, so generated passwords stay
// free of punctuation.
func connectionString(username string, password pulumi.StringInput, db *database) pulumi.StringOutput {
	return pulumi.Sprintf("postgres://%s:%s@%s:%d/%s",
		username, password, db.Instance.Address, db.Instance.Port, db.Name)
}
