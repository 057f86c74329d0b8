package receipt

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// CanonicalBytes возвращает канонические байты подписываемой проекции
// квитанции. Это чистая функция содержимого квитанции: два вызова на одном
// и том же логическом состоянии обязаны дать побайтово одинаковый результат,
// иначе подпись не сойдется при проверке.
//
// Схема зафиксирована так:
//  1. SignableData (без signature / signature_algorithm / certificate_chain)
//     сериализуется стандартным encoding/json;
//  2. результат прогоняется через RFC 8785 (JSON Canonicalization Scheme):
//     лексикографическая сортировка ключей, каноничные числа и строки;
//  3. таймстемпы уже лежат в квитанции готовыми строками RFC 3339 (UTC),
//     поэтому повторная канонизация не зависит от часов и локали.
func CanonicalBytes(r *Receipt) ([]byte, error) {
	raw, err := json.Marshal(r.SignableData())
	if err != nil {
		// Сюда попадают func/chan и NaN/Inf внутри additional_context.
		return nil, fmt.Errorf("%w: %v", ErrCanonicalization, err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: jcs transform: %v", ErrCanonicalization, err)
	}
	return canonical, nil
}
