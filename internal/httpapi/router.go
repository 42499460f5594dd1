/* *****************************************************************************
 * Nehonix Taskmaster Process Supervisor
 *
 * ACCESS RESTRICTIONS:
 * - This software is exclusively for use by Authorized Personnel of NEHONIX
 * - Intended for Internal Use only within NEHONIX operations
 * - No rights granted to unauthorized individuals or entities
 * - All modifications are works made for hire assigned to NEHONIX
 *
 * PROHIBITED ACTIVITIES:
 * - Copying, distributing, or sublicensing without written permission
 * - Reverse engineering, decompiling, or disassembling
 * - Creating derivative works without explicit authorization
 * - External use or commercial distribution outside NEHONIX
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 * For questions or permissions, contact:
 * NEHONIX Legal Department
 * Email: legal@nehonix.com
 * Website: www.nehonix.com
 ***************************************************************************** */

package httpapi

import (
	"net/http"
	"strings"
	"sync"
)

// handlerFunc receives path params extracted from :name segments.
type handlerFunc func(w http.ResponseWriter, r *http.Request, params map[string]string)

// node is one path segment in the routing trie. Static children live in a
// map for O(1) lookup; at most one param child per level.
type node struct {
	staticMap map[string]*node
	param     *node
	paramName string
	handler   handlerFunc
}

func newNode() *node {
	return &node{staticMap: make(map[string]*node, 4)}
}

// router is a method-keyed path trie, cut down from a general router to
// exactly what the API tree needs: static segments and :name params.
type router struct {
	mu    sync.RWMutex
	roots map[string]*node
}

func newRouter() *router {
	return &router{roots: make(map[string]*node, 4)}
}

func (r *router) handle(method, path string, h handlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	root, ok := r.roots[method]
	if !ok {
		root = newNode()
		r.roots[method] = root
	}

	curr := root
	for _, part := range splitPath(path) {
		if strings.HasPrefix(part, ":") {
			if curr.param == nil {
				curr.param = newNode()
				curr.param.paramName = part[1:]
			}
			curr = curr.param
			continue
		}
		child, exists := curr.staticMap[part]
		if !exists {
			child = newNode()
			curr.staticMap[part] = child
		}
		curr = child
	}
	curr.handler = h
}

func (r *router) match(method, path string) (handlerFunc, map[string]string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	root, ok := r.roots[method]
	if !ok {
		return nil, nil
	}

	curr := root
	var params map[string]string
	for _, part := range splitPath(path) {
		if child, ok := curr.staticMap[part]; ok {
			curr = child
			continue
		}
		if curr.param != nil {
			if params == nil {
				params = make(map[string]string, 1)
			}
			params[curr.param.paramName] = part
			curr = curr.param
			continue
		}
		return nil, nil
	}
	return curr.handler, params
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
