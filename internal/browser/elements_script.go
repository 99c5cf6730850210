package browser

// describeElementScript renders an element handle as its tag plus the
// attributes that identify it, for evidence and logs.
func describeElementScript() string {
	return `(el) => {
		try {
			const parts = [el.tagName.toLowerCase()];
			for (const name of ["id", "name", "class", "href", "src", "type"]) {
				const value = el.getAttribute(name);
				if (value) {
					parts.push("[" + name + "=" + JSON.stringify(value) + "]");
				}
			}
			return parts.join("");
		} catch (e) {
			return "element";
		}
	}`
}
