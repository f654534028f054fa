package resources

import "embed"

// FS holds migrations, translations and the default global term list.
//
//go:embed migrations/*.sql i18n/*.yml badwords.txt
var FS embed.FS
