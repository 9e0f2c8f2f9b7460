// Package schema compiles relation declarations written in CUE.
//
// A declaration names the relation, its attributes, its key, and optional
// seed rows:
//
//	relation: person: {
//		key: ["id"]
//		attributes: {id: "int", name: "string", editable: "bool"}
//		rows: [{id: 1, name: "Fred", editable: false}]
//	}
//
// Attribute types may also be written as CUE kinds (id: int). Floats are
// rejected everywhere. Errors carry the CUE source position.
package schema
