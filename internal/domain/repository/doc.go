// Package repository define los tipos de dominio y las interfaces de repositorio
// sobre las que trabaja la reconciliación.
//
// Hay tres stores débilmente acoplados que describen a una misma persona:
//
//	┌──────────────┐   id = id    ┌──────────────┐
//	│   Identity   │◄────────────►│   Profile    │
//	│ (auth, r/o)  │              │ (liviano)    │
//	└──────────────┘              └──────────────┘
//	        ▲
//	        │ linked_identity_id (o email como fallback)
//	        ▼
//	┌──────────────┐
//	│    Member    │──► assigned_to_member_id (árbol pastoral)
//	└──────────────┘
//
// Las implementaciones concretas viven en internal/store/adapters/.
//
// Convenciones:
//   - Context siempre es el primer parámetro
//   - Los emails se comparan case-insensitive (ver NormalizeEmail)
//   - Errores de dominio están en errors.go
package repository
