package converter

import (
	_ "embed"
	"fmt"
	"strings"
)

// cosmeticPlaceholder marks where the domain-specific calls go in the
// cosmetic template
const cosmeticPlaceholder = "{{ADBLOCK_INTERNAL}}"

// cosmeticTemplate defines the helper functions called by procedural
// cosmetic filters
//
//go:embed assets/cosmetic.js
var cosmeticTemplate string

// InlineScriptDirective is the policy added for pages on which inline
// scripts are blocked
const InlineScriptDirective = "script-src 'unsafe-eval' * blob: data:"

const cspScriptFormat = `(function() {
var doc = document;
if (!doc.head) {
 document.onreadystatechange = function() {
  if (document.readyState == 'interactive') {
   var meta = document.createElement('meta');
   meta.setAttribute('http-equiv', 'Content-Security-Policy');
   meta.setAttribute('content', "%[1]s");
   document.head.appendChild(meta);
  }
 };
 return;
}
var meta = doc.createElement('meta');
meta.setAttribute('http-equiv', 'Content-Security-Policy');
meta.setAttribute('content', "%[1]s");
doc.head.appendChild(meta);
})();`

const safeScriptFormat = `try {
 %s
} catch (ex) {
  console.error('[AdBlock] Error running injected script: ', ex);
  console.error(ex.stack);
}
`

// CosmeticScript embeds body into the cosmetic template.  An empty body
// yields an empty script.
func CosmeticScript(body string) string {
	if body == "" {
		return ""
	}

	return strings.Replace(cosmeticTemplate, cosmeticPlaceholder, body, 1)
}

// CSPScript returns a script that adds a Content-Security-Policy meta tag
// carrying the joined directives, deferring until the document has a head
func CSPScript(directives []string) string {
	if len(directives) == 0 {
		return ""
	}

	policy := strings.ReplaceAll(strings.Join(directives, "; "), `"`, `\"`)

	return fmt.Sprintf(cspScriptFormat, policy)
}

// SafeScript wraps an injected script so that its errors do not propagate
// into the page
func SafeScript(body string) string {
	return fmt.Sprintf(safeScriptFormat, body)
}
